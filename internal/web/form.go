package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dialajoke/internal/task/scheduler"

	"github.com/nyaruka/phonenumbers"
)

const maxFormBody = 64 << 10

var (
	errBadRequest = errors.New("bad request")
	errNotFuture  = errors.New("scheduled time not in the future")
)

type scheduleForm struct {
	Date        string
	Time        string
	PhoneNumber string
	// Epoch, when set, is the deadline in Unix seconds and replaces Date
	// and Time.
	Epoch *float64
}

// readScheduleForm accepts application/x-www-form-urlencoded or
// application/json bodies.
func readScheduleForm(w http.ResponseWriter, r *http.Request) (scheduleForm, error) {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return scheduleForm{}, errBadRequest
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)

	switch ct {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return scheduleForm{}, errBadRequest
		}
		form := scheduleForm{
			Date:        r.PostForm.Get("date"),
			Time:        r.PostForm.Get("time"),
			PhoneNumber: r.PostForm.Get("phone_number"),
		}
		if raw := strings.TrimSpace(r.PostForm.Get("epoch")); raw != "" {
			sec, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return scheduleForm{}, errBadRequest
			}
			form.Epoch = &sec
		}
		return form, nil
	case "application/json":
		var body struct {
			Date        string `json:"date"`
			Time        string `json:"time"`
			PhoneNumber string   `json:"phone_number"`
			Epoch       *float64 `json:"epoch"`
		}
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil {
			return scheduleForm{}, errBadRequest
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return scheduleForm{}, errBadRequest
		}
		return scheduleForm{Date: body.Date, Time: body.Time, PhoneNumber: body.PhoneNumber, Epoch: body.Epoch}, nil
	default:
		return scheduleForm{}, errBadRequest
	}
}

// deadlineOf resolves the requested call time from Epoch or Date and Time.
func deadlineOf(form scheduleForm, loc *time.Location) (time.Time, error) {
	if form.Epoch != nil {
		at, err := scheduler.DeadlineFromUnix(*form.Epoch)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return at.In(loc), nil
	}
	return parseWhen(form.Date, form.Time, loc)
}

// parseWhen combines "YYYY-MM-DD" and "HH:MM" (or "HH:MM:SS") in loc.
func parseWhen(date, clock string, loc *time.Location) (time.Time, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, errBadRequest
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, date+" "+clock, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errBadRequest
}

// normalizePhone returns raw in E.164. Without a default region the
// number must carry its country code.
func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errBadRequest
	}
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" && !strings.HasPrefix(raw, "+") {
		return "", fmt.Errorf("%w: missing country code", errBadRequest)
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: impossible number", errBadRequest)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// validateFuture rejects times not strictly after now.
func validateFuture(at, now time.Time) error {
	if !at.After(now) {
		return errNotFuture
	}
	return nil
}
