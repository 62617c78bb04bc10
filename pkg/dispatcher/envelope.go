package dispatcher

import (
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/l10n"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/opctx"
)

// errorResponse answers req with err as the response exception.
func errorResponse(req *message.Message, err error) *message.Message {
	resp := message.BuildResponse(req)
	if resp == nil {
		return nil
	}
	resp.SetError(err)
	return resp
}

// localizedError renders key in the requester's preferred language.
func localizedError(req *message.Message, code cim.StatusCode, key l10n.Key, args ...string) *cim.Error {
	text, cl := l10n.Message(opctx.AcceptLanguages(req.OperationContext), key, args...)
	e := cim.NewError(code, text)
	e.ContentLanguages = cl
	return e
}

func providerID(req *message.Message) *opctx.ProviderID {
	pid, _ := opctx.Get[*opctx.ProviderID](req.OperationContext)
	return pid
}

// moduleOf returns the provider module named in an Enable or Disable request
// body, or in the request's ProviderID container.
func moduleOf(req *message.Message) (cim.ProviderModule, bool) {
	var inst *cim.Instance
	switch body := req.Body.(type) {
	case *message.EnableModuleRequest:
		inst = body.ProviderModule
	case *message.DisableModuleRequest:
		inst = body.ProviderModule
	default:
		if pid := providerID(req); pid != nil {
			inst = pid.Module
		}
	}
	if inst == nil {
		return cim.ProviderModule{}, false
	}
	return cim.ModuleFromInstance(inst), true
}
