package report

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/labreport/labreport/internal/platform/auth"
	"github.com/labreport/labreport/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/archive", h.Archive)
	g.GET("/:id", h.GetDetail)
	g.PUT("/:id", h.Reconcile)
	g.PUT("/:id/results", h.SaveResults)
	g.PUT("/:id/sign", h.Sign)
	g.DELETE("/:id", h.Delete)

	// Reviewers only; superadmin passes RequireRole.
	reviewer := auth.RequireRole(auth.RoleAdmin)
	g.PUT("/:id/approve", h.Approve, reviewer)
	g.PUT("/:id/reject", h.Reject, reviewer)
}

// -- Request bodies --

type sampleFields struct {
	LabTypeID  int64  `json:"lab_type_id"`
	Name       string `json:"sample_name"`
	Amount     string `json:"sample_amount"`
	Location   string `json:"location"`
	SampleDate string `json:"sample_date"`
	SampledBy  string `json:"sampled_by"`
}

type createRequest struct {
	TestStartDate string `json:"test_start_date"`
	AssignedTo    *int64 `json:"assigned_to"`
	Samples       []struct {
		sampleFields
		Indicators []int64 `json:"indicators"`
	} `json:"samples"`
}

type reconcileRequest struct {
	Samples []struct {
		ID int64 `json:"sample_id"`
		sampleFields
		Indicators []DesiredIndicator `json:"indicators"`
	} `json:"samples"`
}

type resultsRequest struct {
	Results    []ResultInput `json:"results"`
	IsComplete *bool         `json:"is_complete"`
}

type signRequest struct {
	AssigneeID int64  `json:"assignee_id"`
	Password   string `json:"password"`
	Note       string `json:"note"`
}

type reviewRequest struct {
	Password string `json:"password"`
	Comment  string `json:"comment"`
}

// -- Handlers --

func (h *Handler) Create(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	start, err := parseDate("test_start_date", req.TestStartDate)
	if err != nil {
		return err
	}
	d := Draft{AssignedTo: req.AssignedTo}
	if start != nil {
		d.TestStartDate = *start
	}
	for _, s := range req.Samples {
		date, err := parseDate("sample_date", s.SampleDate)
		if err != nil {
			return err
		}
		d.Samples = append(d.Samples, DraftSample{
			LabTypeID:    s.LabTypeID,
			Name:         s.Name,
			Amount:       s.Amount,
			Location:     s.Location,
			SampleDate:   date,
			SampledBy:    s.SampledBy,
			IndicatorIDs: s.Indicators,
		})
	}

	out, err := h.svc.Create(c.Request().Context(), id, d)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) List(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var f ListFilter
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = &st
	}
	if f.From, err = parseDate("from", c.QueryParam("from")); err != nil {
		return err
	}
	if f.To, err = parseDate("to", c.QueryParam("to")); err != nil {
		return err
	}

	items, err := h.svc.List(c.Request().Context(), id, f)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, page(c, items))
}

func (h *Handler) Archive(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	var mode Status
	if v := c.QueryParam("mode"); v != "" {
		if mode, err = ParseStatus(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	items, err := h.svc.Archive(c.Request().Context(), id, mode)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, page(c, items))
}

func (h *Handler) GetDetail(c echo.Context) error {
	id, reportID, err := callerAndID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDetail(c.Request().Context(), id, reportID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Reconcile(c echo.Context) error {
	id, reportID, err := callerAndID(c)
	if err != nil {
		return err
	}
	var req reconcileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	desired := make([]DesiredSample, 0, len(req.Samples))
	for _, s := range req.Samples {
		date, err := parseDate("sample_date", s.SampleDate)
		if err != nil {
			return err
		}
		desired = append(desired, DesiredSample{
			ID:         s.ID,
			LabTypeID:  s.LabTypeID,
			Name:       s.Name,
			Amount:     s.Amount,
			Location:   s.Location,
			SampleDate: date,
			SampledBy:  s.SampledBy,
			Indicators: s.Indicators,
		})
	}

	if err := h.svc.Reconcile(c.Request().Context(), id, reportID, desired); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": reportID, "message": "report updated"})
}

func (h *Handler) SaveResults(c echo.Context) error {
	id, reportID, err := callerAndID(c)
	if err != nil {
		return err
	}
	var req resultsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st, err := h.svc.SaveResults(c.Request().Context(), id, reportID, req.Results, req.IsComplete)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": reportID, "status": st})
}

func (h *Handler) Sign(c echo.Context) error {
	id, reportID, err := callerAndID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	in := SignInput{AssigneeID: req.AssigneeID, Credential: req.Password, Note: req.Note}
	if err := h.svc.Sign(c.Request().Context(), id, reportID, in); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": reportID, "status": StatusSigned})
}

func (h *Handler) Approve(c echo.Context) error {
	id, reportID, err := callerAndID(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Approve(c.Request().Context(), id, reportID, req.Password); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": reportID, "status": StatusApproved})
}

func (h *Handler) Reject(c echo.Context) error {
	id, reportID, err := callerAndID(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Reject(c.Request().Context(), id, reportID, req.Password, req.Comment); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": reportID, "status": StatusRejected})
}

func (h *Handler) Delete(c echo.Context) error {
	id, reportID, err := callerAndID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, reportID); err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": reportID, "status": StatusDeleted})
}

// -- Helpers --

func caller(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	return id, nil
}

func callerAndID(c echo.Context) (auth.Identity, int64, error) {
	id, err := caller(c)
	if err != nil {
		return id, 0, err
	}
	reportID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || reportID <= 0 {
		return id, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, reportID, nil
}

func parseDate(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, field+" must be a YYYY-MM-DD date")
	}
	return &t, nil
}

func page(c echo.Context, items []Summary) *pagination.Response {
	if items == nil {
		items = []Summary{}
	}
	p := pagination.FromContext(c)
	lo, hi := p.Page(len(items))
	return pagination.NewResponse(items[lo:hi], len(items), p)
}

// httpError maps service errors onto status codes. Precondition failures
// carry the report's current status so clients can resync.
func httpError(c echo.Context, err error) error {
	var (
		ve  *ValidationError
		oe  *OwnershipError
		pe  *PermissionError
		pre *PreconditionError
		nf  *NotFoundError
		ae  *AuthenticationError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &oe):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.As(err, &pre):
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"message":        pre.Msg,
			"current_status": pre.Current,
		})
	case errors.As(err, &nf):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &ae):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
