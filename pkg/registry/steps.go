package registry

import (
	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/opsdesk/stepflow/pkg/steps/aiprocessing"
	"github.com/opsdesk/stepflow/pkg/steps/approvalgate"
	"github.com/opsdesk/stepflow/pkg/steps/conditional"
	"github.com/opsdesk/stepflow/pkg/steps/datatransform"
	"github.com/opsdesk/stepflow/pkg/steps/forminput"
	"github.com/opsdesk/stepflow/pkg/steps/toolexecution"
)

// RegisterDefaultSteps registers the built-in handler of every step type.
func (r *Registry) RegisterDefaultSteps(completion protocol.CompletionService, tools protocol.ToolInvoker) {
	r.Register(forminput.NewHandler())
	r.Register(aiprocessing.NewHandler(completion))
	r.Register(toolexecution.NewHandler(tools))
	r.Register(approvalgate.NewHandler())
	r.Register(datatransform.NewHandler(r.logger))
	r.Register(conditional.NewHandler())
}
