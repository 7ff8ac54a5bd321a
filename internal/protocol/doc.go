// Package protocol implements the binary serial protocol spoken by rotating
// triangulation range sensors.
//
// Requests are two bytes, a sync byte followed by a command code:
//
//	[0xA5][CMD]
//
// Responses start with a 7-byte descriptor followed by the payload:
//
//	[0xA5][0x5A][LEN(30 bits) | MODE(2 bits)][TYPE]
//
// Device info and health replies are single responses with a fixed payload.
// A scan request is answered by one descriptor and then an unbounded stream
// of 5-byte measurement records:
//
//	byte0: quality(7..2) S(1) !S(0)
//	byte1: angle_q6[6:0](7..1) C(0)
//	byte2: angle_q6[14:7]
//	byte3: distance_q2[7:0]
//	byte4: distance_q2[15:8]
//
// DecodeScan is resumable. Callers keep the remainder it returns and prepend
// it to the next chunk read from the port.
package protocol
