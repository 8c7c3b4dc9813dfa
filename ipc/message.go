package ipc

import "encoding/binary"

// encodeGraphMessage packs a Message's source and payload into the byte
// blob the channel graph stores (the graph package is deliberately
// agnostic of ipc.Message; this is the ipc-side (de)serialization the
// spec's "content is opaque to the IPC core" wording permits at this
// boundary).
func encodeGraphMessage(source int64, payload [PayloadSize]byte) []byte {
	buf := make([]byte, 8+PayloadSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(source))
	copy(buf[8:], payload[:])
	return buf
}

// decodeGraphMessage is the inverse of encodeGraphMessage.
func decodeGraphMessage(buf []byte) Message {
	var msg Message
	msg.Source = int64(binary.LittleEndian.Uint64(buf[0:8]))
	copy(msg.Payload[:], buf[8:])
	return msg
}
