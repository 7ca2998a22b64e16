package telemetry

import (
	"strings"
	"sync"
)

type Report struct {
	Kind   string
	Id     string
	Params []any
}

const (
	KindBroken  = "broken"
	KindWarning = "warning"
	KindDebug   = "debug"
	KindCount   = "count"
)

// RecorderAPI keeps every report in memory so tests can assert on them.
type RecorderAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func NewRecorderAPI() *RecorderAPI {
	return &RecorderAPI{}
}

func (r *RecorderAPI) record(kind, id string, params []any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, Report{Kind: kind, Id: id, Params: params})
}

func (r *RecorderAPI) ReportBroken(id string, params ...any) {
	r.record(KindBroken, id, params)
}

func (r *RecorderAPI) ReportWarning(id string, params ...any) {
	r.record(KindWarning, id, params)
}

func (r *RecorderAPI) ReportDebug(msg string, params ...any) {
	r.record(KindDebug, msg, params)
}

func (r *RecorderAPI) ReportCount(id string, count int64) {
	r.record(KindCount, id, []any{count})
}

// Reports returns the recorded reports of the given kind whose id ends with suffix.
func (r *RecorderAPI) Reports(kind, suffix string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var out []Report
	for _, rep := range r.reports {
		if rep.Kind == kind && strings.HasSuffix(rep.Id, suffix) {
			out = append(out, rep)
		}
	}
	return out
}
