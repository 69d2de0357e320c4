// Package discovery finds miIO devices on the local network via mDNS/DNS-SD.
//
// miIO devices advertise the "_miio._udp" service. The instance name encodes
// the model and the device ID:
//
//	roborock-vacuum-s5_miio123456789
//	\_______________/     \_______/
//	 model, dots as -     device ID
//
// TXT records usually carry "epoch" and "mac". The advertised port is the
// miIO port (54321).
package discovery
