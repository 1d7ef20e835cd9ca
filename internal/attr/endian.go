package attr

import "github.com/mdlayher/netlink/nlenc"

// nativeEndian matches the host byte order used for integer attributes
//; IP addresses are handled separately
// since they are always network byte order on the wire.
var nativeEndian = nlenc.NativeEndian()
