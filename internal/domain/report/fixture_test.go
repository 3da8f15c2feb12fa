package report

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/labreport/labreport/internal/platform/auth"
	"github.com/labreport/labreport/internal/platform/notification/notificationtest"
)

const (
	superID         int64 = 1
	adminID         int64 = 2
	engineerID      int64 = 3
	otherEngineerID int64 = 4
	otherAdminID    int64 = 5
	inactiveAdminID int64 = 6

	labWater int64 = 10
	labAir   int64 = 11

	indPH   int64 = 100
	indLead int64 = 101
	indColi int64 = 102
)

var (
	superadmin    = auth.Identity{UserID: superID, Role: auth.RoleSuperadmin}
	admin         = auth.Identity{UserID: adminID, Role: auth.RoleAdmin}
	otherAdmin    = auth.Identity{UserID: otherAdminID, Role: auth.RoleAdmin}
	engineer      = auth.Identity{UserID: engineerID, Role: auth.RoleEngineer}
	otherEngineer = auth.Identity{UserID: otherEngineerID, Role: auth.RoleEngineer}
)

type fixture struct {
	svc   *Service
	repo  *memRepo
	notes *notificationtest.Recorder
	obs   *opCounter
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	repo.st.labTypes[labWater] = "Water"
	repo.st.labTypes[labAir] = "Air"
	repo.st.catalog[indPH] = Indicator{ID: indPH, Name: "pH", InputType: "numeric"}
	repo.st.catalog[indLead] = Indicator{ID: indLead, Name: "Lead", Unit: "mg/l", InputType: "numeric"}
	repo.st.catalog[indColi] = Indicator{ID: indColi, Name: "E. coli", InputType: "boolean"}
	repo.st.nextID = 1000

	dir := &memDirectory{
		users: map[int64]*User{
			superID:         {ID: superID, FullName: "Root", Role: auth.RoleSuperadmin, Active: true},
			adminID:         {ID: adminID, FullName: "Ada Admin", Role: auth.RoleAdmin, Active: true},
			otherAdminID:    {ID: otherAdminID, FullName: "Otto Admin", Role: auth.RoleAdmin, Active: true},
			engineerID:      {ID: engineerID, FullName: "Eve Engineer", Role: auth.RoleEngineer, Active: true},
			otherEngineerID: {ID: otherEngineerID, FullName: "Ed Engineer", Role: auth.RoleEngineer, Active: true},
			inactiveAdminID: {ID: inactiveAdminID, FullName: "Gone", Role: auth.RoleAdmin, Active: false},
		},
		labTypes: map[int64][]int64{
			adminID:         {labAir},
			engineerID:      {labWater},
			otherEngineerID: {labAir},
		},
	}
	creds := &memVerifier{passwords: map[int64]string{
		superID:         "root-pw",
		adminID:         "admin-pw",
		otherAdminID:    "other-admin-pw",
		engineerID:      "engineer-pw",
		otherEngineerID: "other-engineer-pw",
	}}

	f := &fixture{
		repo:  repo,
		notes: &notificationtest.Recorder{},
		obs:   &opCounter{},
		now:   time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
	f.svc = NewService(repo, dir, creds, f.notes, zerolog.Nop())
	f.svc.SetObserver(f.obs)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func sampleOf(name string, lab int64, indicators ...int64) DraftSample {
	return DraftSample{LabTypeID: lab, Name: name, IndicatorIDs: indicators}
}

func (f *fixture) create(t *testing.T, caller auth.Identity, samples ...DraftSample) *Created {
	t.Helper()
	out, err := f.svc.Create(context.Background(), caller, Draft{
		TestStartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Samples:       samples,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return out
}

func (f *fixture) state(t *testing.T, reportID int64) *State {
	t.Helper()
	st, err := f.repo.LoadState(context.Background(), reportID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return st
}

// assignment returns the sample indicator row for (sample, indicator).
func (f *fixture) assignment(t *testing.T, reportID, sampleID, indicatorID int64) SampleIndicator {
	t.Helper()
	for _, si := range f.state(t, reportID).Indicators {
		if si.SampleID == sampleID && si.IndicatorID == indicatorID {
			return si
		}
	}
	t.Fatalf("no assignment for sample %d indicator %d", sampleID, indicatorID)
	return SampleIndicator{}
}

// complete records a value for every active assignment of the report.
func (f *fixture) complete(t *testing.T, caller auth.Identity, reportID int64) Status {
	t.Helper()
	var items []ResultInput
	for _, si := range f.state(t, reportID).Indicators {
		if si.Status == IndicatorPending {
			items = append(items, ResultInput{SampleIndicatorID: si.ID, ResultValues: ResultValues{Value: strp("7.1")}})
		}
	}
	st, err := f.svc.SaveResults(context.Background(), caller, reportID, items, nil)
	if err != nil {
		t.Fatalf("save results: %v", err)
	}
	return st
}

// signed creates a one-sample report by engineer and signs it to admin.
func (f *fixture) signed(t *testing.T) int64 {
	t.Helper()
	out := f.create(t, engineer, sampleOf("Tap", labWater, indPH))
	f.complete(t, engineer, out.ReportID)
	if err := f.svc.Sign(context.Background(), engineer, out.ReportID, SignInput{AssigneeID: adminID, Credential: "engineer-pw"}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return out.ReportID
}

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }
