package worker

import (
	"context"

	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
)

// EDLProcessor seeds the first edit decision list version
type EDLProcessor struct {
	edl *service.EDLService
}

func NewEDLProcessor(edl *service.EDLService) *EDLProcessor {
	return &EDLProcessor{edl: edl}
}

func (p *EDLProcessor) Process(ctx context.Context, job *model.Job, report ReportFunc) (interface{}, error) {
	report(50, "Seeding cuts from anchor")
	e, err := p.edl.AppendSeed(ctx, job)
	if err != nil {
		return nil, err
	}
	return model.EDLVersionSummary{
		Version:   e.Version,
		Cuts:      len(e.Cuts),
		Chapters:  len(e.Chapters),
		Locked:    e.Locked,
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt,
	}, nil
}
