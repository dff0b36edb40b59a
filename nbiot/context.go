package nbiot

import (
	"context"
	"fmt"

	"i4.energy/across/nbiotgw/at"
)

// ContextIDMax is the highest packet data context id the modem supports.
const ContextIDMax = 3

// DataService is the addressing mode of a packet data context, what the
// SIM7080X documentation calls the PDP type. The zero value is unset.
type DataService int

const (
	ServiceDualStack DataService = iota + 1
	ServiceIPv4
	ServiceIPv6
	ServiceNonIP
	ServiceExtNonIP
)

// wireToken maps the service to its command argument. The mapping is
// total over the defined variants; ok is false for anything else,
// including the zero value.
func (s DataService) wireToken() (string, bool) {
	switch s {
	case ServiceDualStack:
		return "IPV4V6", true
	case ServiceIPv4:
		return "IP", true
	case ServiceIPv6:
		return "IPV6", true
	case ServiceNonIP:
		return "Non-IP", true
	case ServiceExtNonIP:
		return "Ext Non-IP", true
	default:
		return "", false
	}
}

// IP reports whether the service carries IP addressing. Only the non-IP
// variants do not.
func (s DataService) IP() bool {
	switch s {
	case ServiceNonIP, ServiceExtNonIP:
		return false
	default:
		return true
	}
}

func (s DataService) String() string {
	switch s {
	case ServiceDualStack:
		return "DualStack"
	case ServiceIPv4:
		return "IPv4"
	case ServiceIPv6:
		return "IPv6"
	case ServiceNonIP:
		return "NonIP"
	case ServiceExtNonIP:
		return "ExtNonIP"
	default:
		return fmt.Sprintf("DataService(%d)", int(s))
	}
}

// AuthMethod selects the authentication scheme for a context's
// credentials. The zero value means no auth field is sent at all, which
// is distinct from AuthNone (an explicit "no authentication" on the
// wire).
type AuthMethod int

const (
	AuthNone AuthMethod = iota + 1
	AuthPAP
	AuthCHAP
	AuthPAPCHAP
)

// code is the numeric wire argument of the method.
func (a AuthMethod) code() int { return int(a) - 1 }

func (a AuthMethod) valid() bool { return a >= AuthNone && a <= AuthPAPCHAP }

// ActivateAction selects what AT+CNACT does with a context.
type ActivateAction int

const (
	ActionDeactivate ActivateAction = iota
	ActionActivate
	ActionAutoActivate
)

func (a ActivateAction) code() int { return int(a) }

func (a ActivateAction) valid() bool {
	return a >= ActionDeactivate && a <= ActionAutoActivate
}

// confirmToken is the action token the modem echoes in its
// "+APP PDP: <id>,<token>" notification.
func (a ActivateAction) confirmToken() string {
	if a == ActionDeactivate {
		return "DEACTIVE"
	}
	return "ACTIVE"
}

// PDPContext is a modem-resident packet data context: an access point
// name bound to an addressing mode, which must be defined, configured
// and activated before data can flow. The id is immutable after
// definition; there is no delete operation in this protocol.
type PDPContext struct {
	ID      int
	APN     string
	Service DataService

	// IPAddress is non-empty only while this context is the active one
	// and its service is IP-capable.
	IPAddress string
	// Configured is set by a successful ConfigureContext and is required
	// before activation.
	Configured bool

	Username string
	Password string
	Auth     AuthMethod
}

// ContextConfig carries the optional parameters of ConfigureContext.
// Zero-valued APN and Service keep the values the context was defined
// with; a zero Auth omits the auth field from the command entirely.
type ContextConfig struct {
	APN      string
	Service  DataService
	Username string
	Password string
	Auth     AuthMethod
}

// DefineContext writes a fresh context definition into the modem.
//
// The radio must be off while a definition is written, so the sequence
// is: disable functionality, AT+CGDCONT, re-enable functionality, then
// for IP-capable services confirm packet-service attachment, and finally
// re-query the programmed APN (AT+CGNAPN) as a write confirmation. A
// failed functionality toggle is ErrConfiguration and is not retried
// here; a missing confirmation token is ErrProtocol. On success the
// context is registered in the Defined state, replacing any prior state
// under the same id.
func (h *Hat) DefineContext(ctx context.Context, id int, apn string, service DataService) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if id < 0 || id > ContextIDMax {
		return fmt.Errorf("%w: context id must be 0-%d, got %d", ErrValidation, ContextIDMax, id)
	}
	if apn == "" {
		return fmt.Errorf("%w: apn must not be empty", ErrValidation)
	}
	token, ok := service.wireToken()
	if !ok {
		return fmt.Errorf("%w: unknown data service %d", ErrValidation, int(service))
	}

	if !h.setFunctionality(ctx, false) {
		return fmt.Errorf("%w: could not disable radio for context definition", ErrConfiguration)
	}

	lines, err := h.channel.Send(ctx, fmt.Sprintf(`AT+CGDCONT=%d,"%s","%s"`, id, token, apn))
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: define context %d not confirmed: %v", ErrProtocol, id, lines)
	}

	if !h.setFunctionality(ctx, true) {
		return fmt.Errorf("%w: could not re-enable radio after context definition", ErrConfiguration)
	}

	if service.IP() {
		lines, err = h.channel.Send(ctx, at.CmdAttachQuery)
		if err != nil {
			return err
		}
		if !hasLine(lines, at.Attached) {
			return fmt.Errorf("%w: packet service not attached: %v", ErrProtocol, lines)
		}
	}

	lines, err = h.channel.Send(ctx, at.CmdAPNQuery)
	if err != nil {
		return err
	}
	if want := fmt.Sprintf(`%s %d,"%s"`, at.APNEcho, id, apn); !hasLine(lines, want) {
		return fmt.Errorf("%w: programmed apn not confirmed for context %d: %v", ErrProtocol, id, lines)
	}

	h.contexts[id] = &PDPContext{ID: id, APN: apn, Service: service}
	if h.active != nil && *h.active == id {
		h.active = nil
	}
	return nil
}

// ConfigureContext sets the connection parameters of a defined context
// (AT+CNCFG) and marks it Configured.
//
// The command's trailing fields are positional and conditionally
// present: the username is appended only if non-empty, the password only
// after a username, and when an auth method is requested without either
// credential an explicit empty-field pair holds their positions ahead of
// the auth code.
func (h *Hat) ConfigureContext(ctx context.Context, id int, cfg ContextConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if id < 0 || id > ContextIDMax {
		return fmt.Errorf("%w: context id must be 0-%d, got %d", ErrValidation, ContextIDMax, id)
	}
	if cfg.Auth != 0 && !cfg.Auth.valid() {
		return fmt.Errorf("%w: unknown auth method %d", ErrValidation, int(cfg.Auth))
	}

	pc := h.contexts[id]
	if pc == nil {
		return fmt.Errorf("%w: context %d not defined", ErrConfiguration, id)
	}

	apn := cfg.APN
	if apn == "" {
		apn = pc.APN
	}
	service := cfg.Service
	if service == 0 {
		service = pc.Service
	}
	token, ok := service.wireToken()
	if !ok {
		return fmt.Errorf("%w: unknown data service %d", ErrValidation, int(service))
	}

	cmd := fmt.Sprintf(`AT+CNCFG=%d,"%s","%s"`, id, token, apn)
	if cfg.Username != "" {
		cmd += "," + cfg.Username
		if cfg.Password != "" {
			cmd += "," + cfg.Password
		}
	}
	if cfg.Auth != 0 {
		if cfg.Username == "" && cfg.Password == "" {
			cmd += ",,"
		}
		cmd += fmt.Sprintf(",%d", cfg.Auth.code())
	}

	lines, err := h.channel.Send(ctx, cmd)
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: configure context %d not confirmed: %v", ErrProtocol, id, lines)
	}

	pc.APN = apn
	pc.Service = service
	pc.Username = cfg.Username
	pc.Password = cfg.Password
	pc.Auth = cfg.Auth
	pc.Configured = true
	return nil
}

// ActivateContext applies an activation action to a configured context
// (AT+CNACT).
//
// The "+APP PDP" confirmation is soft-checked: a mismatch is logged at
// error level but does not abort, because firmware builds differ in the
// token they echo. This is deliberately laxer than DefineContext's
// strict confirmation policy.
//
// For IP-capable contexts, deactivation clears the stored address and
// the active pointer if it referenced this context; activation queries
// the live context table (AT+CNACT?) and records the address from the
// row matching this id, making it the active context. A missing row
// leaves the registry untouched.
func (h *Hat) ActivateContext(ctx context.Context, id int, action ActivateAction) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if !action.valid() {
		return fmt.Errorf("%w: unknown activation action %d", ErrValidation, int(action))
	}

	if id < 0 || id > ContextIDMax {
		return fmt.Errorf("%w: context id must be 0-%d, got %d", ErrValidation, ContextIDMax, id)
	}
	pc := h.contexts[id]
	if pc == nil {
		return fmt.Errorf("%w: context %d not defined", ErrConfiguration, id)
	}
	if !pc.Configured {
		return fmt.Errorf("%w: context %d not configured", ErrConfiguration, id)
	}

	lines, err := h.channel.Send(ctx, fmt.Sprintf("AT+CNACT=%d,%d", id, action.code()))
	if err != nil {
		return err
	}
	want := fmt.Sprintf("%s %d,%s", at.PDPNotice, id, action.confirmToken())
	if !hasLine(lines, want) {
		h.logger.Error("Failed to confirm context activation", "context", id, "action", action.code(), "response", lines)
	}

	if !pc.Service.IP() {
		return nil
	}

	if action == ActionDeactivate {
		pc.IPAddress = ""
		if h.active != nil && *h.active == id {
			h.active = nil
		}
		return nil
	}

	lines, err = h.channel.Send(ctx, at.CmdTableQuery)
	if err != nil {
		return err
	}
	for _, line := range lines {
		rowID, _, address, ok := at.ParseContextRow(line)
		if !ok || rowID != id {
			continue
		}
		pc.IPAddress = address
		h.active = &id
		break
	}
	return nil
}

// Context returns a copy of the context with the given id, if defined.
func (h *Hat) Context(id int) (PDPContext, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id < 0 || id > ContextIDMax || h.contexts[id] == nil {
		return PDPContext{}, false
	}
	return *h.contexts[id], true
}

// ActiveContextID returns the id of the active context, if any.
func (h *Hat) ActiveContextID() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active == nil {
		return 0, false
	}
	return *h.active, true
}

// ActiveContext returns a copy of the active context, if any.
func (h *Hat) ActiveContext() (PDPContext, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pc := h.activeContext()
	if pc == nil {
		return PDPContext{}, false
	}
	return *pc, true
}

// activeContext resolves the active pointer. Callers hold the mutex.
func (h *Hat) activeContext() *PDPContext {
	if h.active == nil {
		return nil
	}
	return h.contexts[*h.active]
}
