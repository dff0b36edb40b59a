package nbiot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"i4.energy/across/nbiotgw/at"
)

// Fixed names the credentials are staged under in modem flash. The
// session TLS binding (AT+SMSSL) refers to them by these names.
const (
	FlashCA   = "ca.crt"
	FlashCert = "client.crt"
	FlashKey  = "client.key"
)

// ProvisionTLS pushes the three local credential files into modem flash
// and converts them into the modem's internal TLS material: the root CA
// alone, then the client certificate and key as a pair.
//
// All preconditions are checked before any command is sent: the local
// files must exist (ErrResource), a context must be active with an
// address (ErrConfiguration), and the modem clock must report a
// synchronized timestamp (ErrConfiguration), since without a valid
// clock the device cannot validate the certificate chain.
//
// A failure mid-sequence aborts immediately and already-staged files are
// not rolled back; partial on-device state can persist across a failed
// attempt.
func (h *Hat) ProvisionTLS(ctx context.Context, caFile, certFile, keyFile string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	return h.provisionTLS(ctx, caFile, certFile, keyFile)
}

func (h *Hat) provisionTLS(ctx context.Context, caFile, certFile, keyFile string) error {
	for _, f := range []struct{ path, role string }{
		{caFile, "root CA"},
		{certFile, "certificate"},
		{keyFile, "key"},
	} {
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("%w: %s %s not found", ErrResource, f.role, f.path)
		}
	}

	pc := h.activeContext()
	if pc == nil {
		return fmt.Errorf("%w: no active context", ErrConfiguration)
	}
	if pc.IPAddress == "" {
		return fmt.Errorf("%w: active context %d has no address", ErrConfiguration, pc.ID)
	}

	lines, err := h.channel.Send(ctx, at.CmdClockQuery)
	if err != nil {
		return err
	}
	synced := false
	for _, line := range lines {
		if strings.Contains(line, at.ClockEcho) {
			synced = true
			break
		}
	}
	if !synced {
		return fmt.Errorf("%w: modem clock not synchronized: %v", ErrConfiguration, lines)
	}

	if err := h.pushFile(ctx, caFile, FlashCA); err != nil {
		return err
	}
	if err := h.pushFile(ctx, certFile, FlashCert); err != nil {
		return err
	}
	if err := h.pushFile(ctx, keyFile, FlashKey); err != nil {
		return err
	}

	lines, err = h.channel.Send(ctx, fmt.Sprintf(`AT+CSSLCFG="CONVERT",2,"%s"`, FlashCA))
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: could not convert root CA: %v", ErrConfiguration, lines)
	}

	lines, err = h.channel.Send(ctx, fmt.Sprintf(`AT+CSSLCFG="CONVERT",1,"%s","%s"`, FlashCert, FlashKey))
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: could not convert client certificate and key: %v", ErrConfiguration, lines)
	}

	return nil
}

// pushFile stages one local file in modem flash: initialize the modem
// filesystem, open a write session declaring the exact byte size, stream
// the raw bytes, wait out the transfer budget, then close the session.
func (h *Hat) pushFile(ctx context.Context, localPath, flashName string) error {
	lines, err := h.channel.Send(ctx, at.CmdFSInit)
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: could not initialize modem filesystem: %v", ErrProtocol, lines)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}

	lines, err = h.channel.Send(ctx, fmt.Sprintf(`AT+CFSWFILE=3,"%s",0,%d,1000`, flashName, len(data)))
	if err != nil {
		return err
	}
	if !hasLine(lines, at.PromptDownload) {
		return fmt.Errorf("%w: no download prompt for %s: %v", ErrProtocol, flashName, lines)
	}

	lines, err = h.channel.Stream(ctx, data, uploadWait(len(data), h.config.BitRate))
	if err != nil {
		return err
	}
	if len(lines) > 0 && !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: upload of %s failed: %v", ErrProtocol, flashName, lines)
	}

	lines, err = h.channel.Send(ctx, at.CmdFSTerm)
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: could not close filesystem session: %v", ErrProtocol, lines)
	}

	return nil
}

// uploadWait is the transfer budget for pushing size bytes into modem
// flash: the serialization time of the payload at the line rate, rounded
// up to whole seconds, so the modem can drain its input before we look
// for the confirmation.
func uploadWait(size, bitRate int) time.Duration {
	seconds := (size*8 + bitRate - 1) / bitRate
	return time.Duration(seconds) * time.Second
}
