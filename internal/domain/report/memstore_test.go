package report

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/labreport/labreport/internal/platform/auth"
)

// memRepo is an in-memory Repository. A transaction works on a clone of the
// committed state and swaps it in on success, so a failing operation leaves
// nothing behind. Transactions are serialised by a single mutex.
type memRepo struct {
	mu sync.Mutex
	st *memState

	// failApply, when set, is returned by ApplyPlan after the plan was written
	// to the working copy.
	failApply error
}

type memState struct {
	nextID     int64
	reports    map[int64]Report
	samples    map[int64]Sample
	indicators map[int64]SampleIndicator
	results    map[int64]TestResult
	comments   []Comment
	catalog    map[int64]Indicator
	labTypes   map[int64]string
}

type memTxKey struct{}

func newMemRepo() *memRepo {
	return &memRepo{st: &memState{
		reports:    map[int64]Report{},
		samples:    map[int64]Sample{},
		indicators: map[int64]SampleIndicator{},
		results:    map[int64]TestResult{},
		catalog:    map[int64]Indicator{},
		labTypes:   map[int64]string{},
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:     s.nextID,
		reports:    make(map[int64]Report, len(s.reports)),
		samples:    make(map[int64]Sample, len(s.samples)),
		indicators: make(map[int64]SampleIndicator, len(s.indicators)),
		results:    make(map[int64]TestResult, len(s.results)),
		comments:   append([]Comment(nil), s.comments...),
		catalog:    s.catalog,
		labTypes:   s.labTypes,
	}
	for k, v := range s.reports {
		c.reports[k] = v
	}
	for k, v := range s.samples {
		c.samples[k] = v
	}
	for k, v := range s.indicators {
		c.indicators[k] = v
	}
	for k, v := range s.results {
		c.results[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (m *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memState); ok {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.st.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, work)); err != nil {
		return err
	}
	m.st = work
	return nil
}

// read runs fn against the transaction's working copy, or the committed state.
func (m *memRepo) read(ctx context.Context, fn func(st *memState)) {
	if st, ok := ctx.Value(memTxKey{}).(*memState); ok {
		fn(st)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.st)
}

func (m *memRepo) tx(ctx context.Context) *memState {
	st, ok := ctx.Value(memTxKey{}).(*memState)
	if !ok {
		panic("memRepo: write outside transaction")
	}
	return st
}

func (m *memRepo) LockReport(ctx context.Context, id int64) (*Report, error) {
	r, ok := m.tx(ctx).reports[id]
	if !ok {
		return nil, &NotFoundError{Entity: "report", ID: id}
	}
	return &r, nil
}

func (m *memRepo) InsertReport(ctx context.Context, r *Report) error {
	st := m.tx(ctx)
	r.ID = st.id()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	st.reports[r.ID] = *r
	return nil
}

func (m *memRepo) UpdateReport(ctx context.Context, r *Report) error {
	st := m.tx(ctx)
	if _, ok := st.reports[r.ID]; !ok {
		return &NotFoundError{Entity: "report", ID: r.ID}
	}
	r.UpdatedAt = time.Now().UTC()
	st.reports[r.ID] = *r
	return nil
}

func (m *memRepo) InsertComment(ctx context.Context, c *Comment) error {
	st := m.tx(ctx)
	c.ID = st.id()
	c.CreatedAt = time.Now().UTC()
	st.comments = append(st.comments, *c)
	return nil
}

func (m *memRepo) LoadState(ctx context.Context, reportID int64) (*State, error) {
	out := &State{}
	m.read(ctx, func(st *memState) {
		owned := map[int64]bool{}
		for _, s := range st.samples {
			if s.ReportID == reportID {
				out.Samples = append(out.Samples, s)
				owned[s.ID] = true
			}
		}
		for _, si := range st.indicators {
			if owned[si.SampleID] {
				out.Indicators = append(out.Indicators, si)
			}
		}
	})
	out.Samples = sortedSamples(out.Samples)
	out.Indicators = sortedIndicators(out.Indicators)
	return out, nil
}

func (m *memRepo) ApplyPlan(ctx context.Context, p *Plan) error {
	st := m.tx(ctx)
	for _, id := range p.DeleteSamples {
		s := st.samples[id]
		s.Status = SampleDeleted
		st.samples[id] = s
	}
	for _, s := range p.UpdateSamples {
		st.samples[s.ID] = s
	}
	for _, id := range p.DeleteIndicators {
		si := st.indicators[id]
		si.Status = IndicatorDeleted
		st.indicators[id] = si
	}
	for _, id := range p.RestoreIndicators {
		si := st.indicators[id]
		si.Status = IndicatorPending
		st.indicators[id] = si
	}
	insert := func(si *SampleIndicator) error {
		for _, other := range st.indicators {
			if other.SampleID == si.SampleID && other.IndicatorID == si.IndicatorID {
				return errors.New("duplicate key value violates unique constraint")
			}
		}
		si.ID = st.id()
		st.indicators[si.ID] = *si
		return nil
	}
	for _, ns := range p.InsertSamples {
		ns.Sample.ID = st.id()
		st.samples[ns.Sample.ID] = ns.Sample
	}
	for _, ns := range p.InsertSamples {
		for _, si := range ns.Indicators {
			si.SampleID = ns.Sample.ID
			if err := insert(si); err != nil {
				return err
			}
		}
	}
	for _, si := range p.InsertIndicators {
		if err := insert(si); err != nil {
			return err
		}
	}
	return m.failApply
}

func (m *memRepo) IndicatorRefs(ctx context.Context, ids []int64) (map[int64]IndicatorRef, error) {
	out := map[int64]IndicatorRef{}
	m.read(ctx, func(st *memState) {
		for _, id := range ids {
			si, ok := st.indicators[id]
			if !ok {
				continue
			}
			s := st.samples[si.SampleID]
			out[id] = IndicatorRef{ReportID: s.ReportID, Active: si.Status != IndicatorDeleted && s.Status != SampleDeleted}
		}
	})
	return out, nil
}

func (m *memRepo) UpsertResults(ctx context.Context, items []ResultInput) error {
	st := m.tx(ctx)
	for _, it := range items {
		if _, ok := st.indicators[it.SampleIndicatorID]; !ok {
			return errors.New("foreign key violation")
		}
		res, ok := st.results[it.SampleIndicatorID]
		prev := res.MeasuredAt
		if !ok {
			res = TestResult{ID: st.id(), SampleIndicatorID: it.SampleIndicatorID}
			now := time.Now().UTC()
			prev = &now
		}
		res.ResultValues = it.ResultValues
		if res.MeasuredAt == nil {
			res.MeasuredAt = prev
		}
		st.results[it.SampleIndicatorID] = res
	}
	return nil
}

func (m *memRepo) CountIncomplete(ctx context.Context, reportID int64) (int, error) {
	n := 0
	m.read(ctx, func(st *memState) { n = st.incomplete(reportID) })
	return n, nil
}

func (st *memState) incomplete(reportID int64) int {
	n := 0
	for _, si := range st.indicators {
		s := st.samples[si.SampleID]
		if s.ReportID != reportID || s.Status == SampleDeleted || si.Status == IndicatorDeleted {
			continue
		}
		if res, ok := st.results[si.ID]; !ok || !res.Complete() {
			n++
		}
	}
	return n
}

func (st *memState) summary(r Report) Summary {
	s := Summary{Report: r, LabTypes: []string{}, SampleNames: []string{}, IndicatorNames: []string{}}
	labs, names, inds := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, smp := range st.samples {
		if smp.ReportID != r.ID || smp.Status == SampleDeleted {
			continue
		}
		labs[st.labTypes[smp.LabTypeID]] = true
		names[smp.Name] = true
		s.SampleCount++
		for _, si := range st.indicators {
			if si.SampleID == smp.ID && si.Status != IndicatorDeleted {
				inds[st.catalog[si.IndicatorID].Name] = true
			}
		}
	}
	s.LabTypes, s.SampleNames, s.IndicatorNames = keys(labs), keys(names), keys(inds)
	return s
}

func (st *memState) activeLabTypes(reportID int64) []int64 {
	var out []int64
	seen := map[int64]bool{}
	for _, smp := range sortedSamples(values(st.samples)) {
		if smp.ReportID == reportID && smp.Status != SampleDeleted && !seen[smp.LabTypeID] {
			seen[smp.LabTypeID] = true
			out = append(out, smp.LabTypeID)
		}
	}
	return out
}

func (m *memRepo) ListReports(ctx context.Context, scope Scope, f ListFilter) ([]Summary, error) {
	var out []Summary
	m.read(ctx, func(st *memState) {
		for _, r := range st.reports {
			if r.Status == StatusDeleted || r.Status == StatusApproved {
				continue
			}
			if f.Status != nil && r.Status != *f.Status {
				continue
			}
			if f.From != nil && r.TestStartDate.Before(*f.From) {
				continue
			}
			if f.To != nil && (r.TestEndDate == nil || r.TestEndDate.After(*f.To)) {
				continue
			}
			if !scope.Allows(r.CreatedBy, r.AssignedTo, st.activeLabTypes(r.ID)) {
				continue
			}
			out = append(out, st.summary(r))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) ListArchive(ctx context.Context, q ArchiveQuery) ([]Summary, error) {
	var out []Summary
	m.read(ctx, func(st *memState) {
		for _, r := range st.reports {
			if r.Status != q.Status {
				continue
			}
			if q.AssignedTo != nil && (r.AssignedTo == nil || *r.AssignedTo != *q.AssignedTo) {
				continue
			}
			out = append(out, st.summary(r))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	var (
		d   *Detail
		err error
	)
	m.read(ctx, func(st *memState) {
		r, ok := st.reports[id]
		if !ok {
			err = &NotFoundError{Entity: "report", ID: id}
			return
		}
		d = &Detail{Report: r, LabTypeIDs: st.activeLabTypes(id), Samples: []SampleDetail{}, Comments: []Comment{}}
		for _, smp := range sortedSamples(values(st.samples)) {
			if smp.ReportID != id || smp.Status == SampleDeleted {
				continue
			}
			sd := SampleDetail{Sample: smp, Indicators: []IndicatorDetail{}}
			for _, si := range sortedIndicators(values(st.indicators)) {
				if si.SampleID != smp.ID || si.Status == IndicatorDeleted {
					continue
				}
				det := IndicatorDetail{SampleIndicator: si, Indicator: st.catalog[si.IndicatorID]}
				if res, ok := st.results[si.ID]; ok {
					res := res
					det.Result = &res
				}
				sd.Indicators = append(sd.Indicators, det)
			}
			d.Samples = append(d.Samples, sd)
		}
		for i := len(st.comments) - 1; i >= 0; i-- {
			if st.comments[i].ReportID == id {
				d.Comments = append(d.Comments, st.comments[i])
			}
		}
	})
	return d, err
}

// -- test helpers over committed state --

func (m *memRepo) report(id int64) Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.reports[id]
}

func (m *memRepo) commentsFor(id int64) []Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Comment
	for _, c := range m.st.comments {
		if c.ReportID == id {
			out = append(out, c)
		}
	}
	return out
}

func (m *memRepo) resultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.results)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func values[T any](m map[int64]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// -- collaborators --

type memDirectory struct {
	users    map[int64]*User
	labTypes map[int64][]int64
}

func (d *memDirectory) GetUser(_ context.Context, id int64) (*User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (d *memDirectory) LabTypesForUser(_ context.Context, userID int64) ([]int64, error) {
	return d.labTypes[userID], nil
}

type memVerifier struct {
	passwords map[int64]string
}

func (v *memVerifier) VerifyCredential(_ context.Context, userID int64, credential string) error {
	if pw, ok := v.passwords[userID]; !ok || pw != credential {
		return auth.ErrInvalidCredential
	}
	return nil
}

type opCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *opCounter) ObserveOperation(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[op+"/"+outcome]++
}

func (o *opCounter) get(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}
