// Package miio implements the Xiaomi miIO LAN protocol used by Roborock
// vacuums and exposes it as a device.Dialer.
//
// # Packets
//
// Every datagram starts with a 32-byte header:
//
//	0      2      4          8          12         16                32
//	| 2131 | len  | unknown  | deviceID | stamp    | checksum (md5)   |
//
// followed by the AES-128-CBC encrypted JSON payload. The key is md5(token),
// the IV is md5(key + token) and the checksum is md5 over the first 16
// header bytes, the token and the encrypted payload.
//
// A session starts with a hello packet (a bare header filled with 0xff).
// The device answers with its ID and current stamp, which later requests
// must advance.
//
// # Calls
//
// Requests are JSON-RPC objects {"id", "method", "params"}. Responses carry
// the same id with either "result" or "error".
package miio
