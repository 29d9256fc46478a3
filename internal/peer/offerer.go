package peer

// Offerer reports whether the local peer initiates the offer toward the
// remote one. The lexicographically smaller peer id offers, so both sides
// reach the same verdict without an extra signaling round trip.
func Offerer(local, remote string) bool {
	return local < remote
}
