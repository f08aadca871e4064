package broker

import (
	"fmt"

	"github.com/nano-cluster/nano-compose/internal/config"
	"github.com/nano-cluster/nano-compose/pkg/stats"
	"github.com/nano-cluster/nano-compose/pkg/types"
)

// Reasons recorded by Stats.Dropped
const (
	DropMalformed         = "malformed"
	DropLineTooLong       = "line_too_long"
	DropTruncated         = "truncated"
	DropRequestWithoutID  = "request_without_id"
	DropResponseWithoutID = "response_without_id"
	DropUnknownID         = "unknown_id"
	DropCallerDown        = "caller_down"
)

// invoke handles a request line from source
func (b *Broker) invoke(source string, line []byte, msg *types.Message) {
	if !msg.HasID() {
		b.logger.Warn("Dropping request without id", "module", source, "method", msg.Method)
		b.stats.Dropped(DropRequestWithoutID)
		return
	}

	target, name, ok := types.SplitMethod(msg.Method)
	if !ok || target == "" {
		b.reply(source, types.NewErrorResponse(msg.ID, types.CodenameInvalidRequest,
			fmt.Sprintf("method %q is not of the form <module>.<name>", msg.Method)))
		return
	}

	key := msg.CallKey()
	if prev, exists := b.pending.Lookup(key); exists {
		if b.cfg.RejectDuplicateIDs {
			b.logger.Warn("Rejecting request with outstanding id",
				"module", source, "id", key, "outstanding_method", prev.Method)
			b.reply(source, types.NewErrorResponse(msg.ID, types.CodenameDuplicateID,
				fmt.Sprintf("call id %s is already outstanding", key)))
			return
		}
		b.logger.Warn("Call id reused while outstanding, replacing the older call",
			"module", source, "id", key, "outstanding_method", prev.Method, "outstanding_caller", prev.Caller)
	}

	pc := pendingCall{
		ID:        msg.ID,
		Caller:    source,
		Callee:    target,
		Method:    msg.Method,
		Call:      stats.Call{Caller: source, Callee: target, Method: name},
		Accounted: target != config.AdminModule,
		CreatedAt: b.now(),
	}
	if pc.Accounted {
		b.stats.Invoked(pc.Call)
	}
	b.pending.Put(key, pc)

	if !b.graph.CanInvoke(source, target) {
		b.logger.Warn("Forbidden call", "caller", source, "callee", target, "method", msg.Method)
		b.synthesize(target, key, types.CodenameForbidden,
			fmt.Sprintf("module %s is not allowed to call %s", source, target))
		return
	}

	if target == config.AdminModule {
		b.handleAdmin(key, name, msg)
		return
	}

	dst, ok := b.modules[target]
	if !ok || dst.status != types.StatusRunning {
		b.synthesize(target, key, types.CodenameUnavailable,
			fmt.Sprintf("module %s is not running", target))
		return
	}

	b.logger.Debug("Routing call", "caller", source, "callee", target, "method", msg.Method, "id", key)
	if err := b.write(dst, line); err != nil {
		b.moduleDown(target, err)
	}
}

// resolve handles a response line produced by responder
func (b *Broker) resolve(responder string, line []byte, msg *types.Message) {
	if !msg.HasID() {
		b.logger.Warn("Dropping response without id", "module", responder)
		b.stats.Dropped(DropResponseWithoutID)
		return
	}

	key := msg.CallKey()
	pc, ok := b.pending.Take(key)
	if !ok {
		b.logger.Warn("Dropping response for unknown call", "module", responder, "id", key)
		b.stats.Dropped(DropUnknownID)
		return
	}
	if responder != pc.Callee {
		b.logger.Warn("Response came from a module other than the callee",
			"module", responder, "callee", pc.Callee, "id", key)
	}

	failed := msg.HasError()
	if pc.Accounted {
		b.stats.Resolved(pc.Call, failed)
	}

	dst, ok := b.modules[pc.Caller]
	if !ok || dst.status != types.StatusRunning {
		b.logger.Warn("Dropping response for a caller that is down", "caller", pc.Caller, "id", key)
		b.stats.Dropped(DropCallerDown)
		return
	}

	b.logger.Debug("Routing response", "callee", responder, "caller", pc.Caller, "id", key, "error", failed)
	if err := b.write(dst, line); err != nil {
		b.moduleDown(pc.Caller, err)
	}
}

// synthesize answers the pending call key on behalf of from. The answer goes
// through resolve so stats and pending bookkeeping match a real reply.
func (b *Broker) synthesize(from, key, codename, message string) {
	pc, ok := b.pending.Lookup(key)
	if !ok {
		return
	}
	b.respond(from, types.NewErrorResponse(pc.ID, codename, message))
}

// respond encodes resp and feeds it to resolve as if from had written it
func (b *Broker) respond(from string, resp *types.Response) {
	line, msg, err := resp.Encode()
	if err != nil {
		b.logger.Error("Failed to encode response", "module", from, "error", err)
		line, msg, err = types.NewErrorResponse(resp.ID, types.CodenameInternal, "response could not be encoded").Encode()
		if err != nil {
			return
		}
	}
	b.resolve(from, line, msg)
}

// reply writes a broker error straight back to source without creating a
// pending call
func (b *Broker) reply(source string, resp *types.Response) {
	line, _, err := resp.Encode()
	if err != nil {
		b.logger.Error("Failed to encode reply", "module", source, "error", err)
		return
	}
	if resp.Error != nil {
		b.logger.Warn("Rejecting request", "module", source, "codename", resp.Error.Codename, "reason", resp.Error.Message)
	}
	dst, ok := b.modules[source]
	if !ok || dst.status != types.StatusRunning {
		return
	}
	if err := b.write(dst, line); err != nil {
		b.moduleDown(source, err)
	}
}

// write delivers a newline-terminated line to a module. It blocks until the
// module has room, which is how backpressure propagates.
func (b *Broker) write(dst *endpoint, line []byte) error {
	if _, err := dst.w.Write(line); err != nil {
		b.logger.Warn("Failed to write to module", "module", dst.name, "error", err)
		return err
	}
	return nil
}
