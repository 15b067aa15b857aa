package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"dialajoke/internal/callcontrol"
	"dialajoke/internal/task/scheduler"
	"dialajoke/internal/telephony"
	logx "dialajoke/pkg/logx"

	"github.com/google/uuid"
)

const (
	msgBadRequest = "Bad request. Please ensure the request is valid."
	msgNotFuture  = "The scheduled time must be in the future."

	maxWebhookBody = 1 << 20
)

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleInfo reports host, start time and uptime as indented JSON with
// sorted keys.
func (s *Service) handleInfo(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	info := map[string]string{
		"host":       s.cfg.Hostname,
		"start_time": formatSeconds(float64(s.started.UnixNano()) / 1e9),
		"uptime":     formatSeconds(now.Sub(s.started).Seconds()) + " s",
		"date":       now.In(s.cfg.Location).Format("2006-01-02T15:04:05.000000"),
	}
	b, err := json.MarshalIndent(info, "", "    ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(b, '\n'))
}

// formatSeconds rounds to two decimals and drops trailing zeros.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func (s *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	now := s.now().In(s.cfg.Location)
	data := indexData{
		Date: now.Format("2006-01-02"),
		Time: now.Add(time.Minute).Format("15:04"),
	}

	for _, p := range s.deps.Scheduler.Pending() {
		data.ScheduledCalls = append(data.ScheduledCalls, scheduledRow{At: p.Deadline.In(s.cfg.Location), Number: p.Payload.To})
	}

	if s.deps.History != nil {
		recs, err := s.deps.History.RecentCalls(r.Context(), s.cfg.HistoryLimit)
		if err != nil {
			s.log.Warn("call history unavailable", logx.Err(err))
		}
		for _, rec := range recs {
			data.History = append(data.History, historyRow{
				At:     rec.At.In(s.cfg.Location),
				To:     rec.To,
				Event:  rec.Event,
				Error:  rec.Error,
				CallID: rec.CallID,
			})
		}
	}

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, indexTemplate, data); err != nil {
		s.log.Error("render index failed", logx.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Service) handleSchedule(w http.ResponseWriter, r *http.Request) {
	form, err := readScheduleForm(w, r)
	if err != nil {
		writeText(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	at, err := deadlineOf(form, s.cfg.Location)
	if err != nil {
		writeText(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	to, err := normalizePhone(form.PhoneNumber, s.cfg.DefaultRegion)
	if err != nil {
		s.log.Debug("phone number rejected", logx.Err(err))
		writeText(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	now := s.now()
	if err := validateFuture(at, now); err != nil {
		writeText(w, http.StatusBadRequest, msgNotFuture)
		return
	}

	req := callcontrol.CallRequest{ID: uuid.NewString(), To: to, CreatedAt: now}
	if err := s.deps.Scheduler.Put(req, at); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			writeText(w, http.StatusServiceUnavailable, "Service is shutting down.")
			return
		}
		writeText(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	s.log.Info("call scheduled",
		logx.String("call_id", req.ID),
		logx.String("to", to),
		logx.Time("at", at),
	)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeText(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if s.webhookKey != nil {
		err := telephony.VerifySignature(s.webhookKey, body,
			r.Header.Get(telephony.HeaderSignature),
			r.Header.Get(telephony.HeaderTimestamp),
			s.cfg.WebhookTolerance, s.now())
		if err != nil {
			s.log.Warn("webhook rejected", logx.Err(err))
			writeText(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	ev, err := telephony.ParseEvent(bytes.NewReader(body))
	if err != nil {
		s.log.Debug("webhook unparseable", logx.Err(err))
		writeText(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if err := s.deps.Calls.HandleEvent(r.Context(), ev); err != nil {
		s.log.Warn("webhook handling failed",
			logx.String("type", ev.Type),
			logx.String("call_control_id", ev.CallControlID),
			logx.Err(err),
		)
	}
	writeText(w, http.StatusOK, "ok")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
