// Package at contains the wire vocabulary and line tokenization for the
// SIM7080X command subset used by the driver: context bring-up, certificate
// upload into modem flash, and MQTT session management.
package at

const (
	// Terminal Control
	CRLF           = "\r\n"
	Prompt         = "> "
	PromptDownload = "DOWNLOAD"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// Fixed commands (parameterized commands are formatted by the caller)
	CmdProbe       = "AT"
	CmdRadioOn     = "AT+CFUN=1"
	CmdRadioOff    = "AT+CFUN=0"
	CmdAttachQuery = "AT+CGATT?"
	CmdAPNQuery    = "AT+CGNAPN"
	CmdTableQuery  = "AT+CNACT?"
	CmdClockQuery  = "AT+CCLK?"
	CmdFSInit      = "AT+CFSINIT"
	CmdFSTerm      = "AT+CFSTERM"
	CmdConnect     = "AT+SMCONN"
	CmdDisconnect  = "AT+SMDISC"

	// Status and data line prefixes
	SimReady    = "+CPIN: READY"
	SimNotReady = "+CPIN: NOT READY"
	Attached    = "+CGATT: 1"
	APNEcho     = "+CGNAPN:"
	ContextRow  = "+CNACT:"
	PDPNotice   = "+APP PDP:"
	ClockEcho   = `+CCLK: "`
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CNACT: ...)
	TypePrompt                     // Payload input prompts ("> ", DOWNLOAD)
)
