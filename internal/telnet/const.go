// Package telnet implements the byte-level telnet IAC state machine and
// RFC 2217 COM-PORT Control option framing shared by the decoder (network
// side) and encoder (all outbound paths).
package telnet

// Base telnet protocol bytes (STD 8).
const (
	SE   byte = 240
	NOP  byte = 241
	SB   byte = 250
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255
)

// Base telnet options (STD 27/28/29) relevant to this gateway.
const (
	OptTransmitBinary   byte = 0
	OptEcho             byte = 1
	OptSuppressGoAhead  byte = 3
	OptComPort          byte = 44 // RFC 2217 COM-PORT Control option, "CPC"
)

// COM-PORT subcommand codes, client -> server direction (§4.5).
const (
	CPCSignature           byte = 0
	CPCSetBaudrate         byte = 1
	CPCSetDatasize         byte = 2
	CPCSetParity           byte = 3
	CPCSetStopsize         byte = 4
	CPCSetControl          byte = 5
	CPCNotifyLinestate     byte = 6
	CPCNotifyModemstate    byte = 7
	CPCFlowcontrolSuspend  byte = 8
	CPCFlowcontrolResume   byte = 9
	CPCSetLinestateMask    byte = 10
	CPCSetModemstateMask   byte = 11
	CPCPurgeData           byte = 12
)

// Server reply offset: every server->client reply code is the matching
// client->server code plus 100 (sercd.c: TNASC_* = TNCAS_* + 100).
const ReplyOffset byte = 100

// Worst-case emitted-byte constants (§4.4), used to size readiness checks
// so that no buffer Push precondition is ever violated.
const (
	// EscWriteChar is the worst-case expansion of write_app_byte: an IAC
	// byte doubles to two bytes.
	EscWriteChar = 2

	// EscRedirectCharDev is the worst-case bytes the decoder pushes to
	// the device-bound buffer per inbound byte (one app byte).
	EscRedirectCharDev = 1

	// maxSignatureLen bounds the signature string/payload size (§4.5:
	// "limited to 255 bytes").
	maxSignatureLen = 255

	// sendSignatureMax is IAC,SB,OPT,SUBCMD,<=255 payload bytes each
	// possibly doubled,IAC,SE.
	sendSignatureMax = 6 + 2*maxSignatureLen

	// sendBaudRateMax is IAC,SB,OPT,SUBCMD,4 baud bytes each possibly
	// doubled,IAC,SE.
	sendBaudRateMax = 6 + 2*4

	// sendCPCByteCommandMax is IAC,SB,OPT,SUBCMD,1 byte (possibly
	// doubled: worst case 2),IAC,SE -> 6+2 = 8.
	sendCPCByteCommandMax = 8

	// sendOptionMax is IAC,cmd,opt.
	sendOptionMax = 3

	// EscRedirectCharSock is HandleIACCommand_max from §4.4: the largest
	// number of bytes a single decoded inbound byte can cause to be
	// written back to the network buffer as a reply.
	EscRedirectCharSock = sendSignatureMax
)

func init() {
	// sendSignatureMax must in fact be the largest of the four; this is
	// a compile-time fact checked once at package init rather than
	// re-derived on every readiness check.
	if sendSignatureMax < sendBaudRateMax || sendSignatureMax < sendCPCByteCommandMax || sendSignatureMax < sendOptionMax {
		panic("telnet: sendSignatureMax is not the maximum of HandleIACCommand_max candidates")
	}
}
