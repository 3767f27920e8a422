package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/agrosentinel-etl/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-playground/validator/v10"
)

const defaultLatestLimit = 10

var validate = validator.New()

// vpdQuery holds the query parameters of /api/v1/vpd.
type vpdQuery struct {
	Temperature *float64 `validate:"required,gte=-40,lte=60"`
	Humidity    *float64 `validate:"required,gte=0,lte=105"`
}

// vpdResponse is the on-demand calculation result.
type vpdResponse struct {
	TemperatureC    float64             `json:"temperature_c"`
	HumidityPct     float64             `json:"humidity_pct"`
	HumidityClamped bool                `json:"humidity_clamped"`
	SVPKPa          float64             `json:"svp_kpa"`
	AVPKPa          float64             `json:"avp_kpa"`
	VPDKPa          float64             `json:"vpd_kpa"`
	Risk            domain.RiskCategory `json:"risk_category"`
	Diagnosis       domain.Diagnosis    `json:"diagnosis"`
}

// latestQuery holds the query parameters of /api/v1/readings/latest.
type latestQuery struct {
	SensorID string `validate:"required,max=128"`
	Limit    int    `validate:"gte=1,lte=500"`
}

func (s *Server) handleVPD(w http.ResponseWriter, r *http.Request) {
	var q vpdQuery
	var err error
	if q.Temperature, err = optionalFloat(r, "temperature"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if q.Humidity, err = optionalFloat(r, "humidity"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v, err := domain.Calculate(*q.Temperature, *q.Humidity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sharedobs.WriteJSON(w, http.StatusOK, vpdResponse{
		TemperatureC:    v.TemperatureC,
		HumidityPct:     v.HumidityPct,
		HumidityClamped: v.HumidityClamped,
		SVPKPa:          v.SVPKPa,
		AVPKPa:          v.AVPKPa,
		VPDKPa:          v.VPDKPa,
		Risk:            v.Risk,
		Diagnosis:       domain.Diagnose(v.TemperatureC, v.HumidityPct),
	})
}

func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no queryable reading store configured"))
		return
	}

	q := latestQuery{
		SensorID: strings.TrimSpace(r.URL.Query().Get("sensor_id")),
		Limit:    defaultLatestLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		q.Limit = n
	}
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	readings, err := s.store.LatestReadings(r.Context(), q.SensorID, q.Limit)
	if err != nil {
		s.logger.Error("query latest readings failed", "sensor_id", q.SensorID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to query readings"))
		return
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("no readings for sensor %q", q.SensorID))
		return
	}

	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"sensor_id": q.SensorID,
		"count":     len(readings),
		"readings":  readings,
	})
}

func optionalFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &f, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
