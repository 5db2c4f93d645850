// Package wire implements the fixed 16-byte SOME/IP message header: encode,
// decode, and the size-prefix helpers GetMessageSize/GetPayloadSize for
// splitting a byte stream into frames. TCPRouter reads the length field
// itself rather than calling these helpers.
package wire
