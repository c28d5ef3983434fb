package toolclient

import (
	"encoding/json"

	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/session"
)

type lookupCallerResponse struct {
	Known           bool                     `json:"known"`
	Name            string                   `json:"name"`
	ZipCode         string                   `json:"zip_code"`
	ServiceAddress  string                   `json:"service_address"`
	HasAppointment  bool                     `json:"has_appointment"`
	AppointmentDate string                   `json:"appointment_date"`
	AppointmentTime string                   `json:"appointment_time"`
	CallbackPromise *callbackPromiseResponse `json:"callback_promise"`
}

type callbackPromiseResponse struct {
	Date  string `json:"date"`
	Issue string `json:"issue"`
}

func (r lookupCallerResponse) toResult() *fsm.LookupCallerResult {
	res := &fsm.LookupCallerResult{
		Known:           r.Known,
		Name:            r.Name,
		ZipCode:         r.ZipCode,
		ServiceAddress:  r.ServiceAddress,
		HasAppointment:  r.HasAppointment,
		AppointmentDate: r.AppointmentDate,
		AppointmentTime: r.AppointmentTime,
	}
	if r.CallbackPromise != nil {
		res.CallbackPromise = &session.CallbackPromise{
			Date:  r.CallbackPromise.Date,
			Issue: r.CallbackPromise.Issue,
		}
	}
	return res
}

// bookServiceResponse ingests book_service's response. The backend is
// contractually required to send both `booked` and `booking_confirmed`
// with the same value (spec.md §6.1), but this type accepts either key
// alone and ORs them together, so a backend that only sends one of the two
// still round-trips correctly.
type bookServiceResponse struct {
	BookingConfirmed     bool   `json:"-"`
	AppointmentTime      string `json:"appointment_time"`
	ConfirmationMessage string `json:"confirmationMessage"`
	AppointmentID        string `json:"appointmentId"`
	Error                string `json:"error"`
}

func (r *bookServiceResponse) UnmarshalJSON(data []byte) error {
	type alias bookServiceResponse
	aux := struct {
		Booked           *bool `json:"booked"`
		BookingConfirmed *bool `json:"booking_confirmed"`
		*alias
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	confirmed := false
	if aux.Booked != nil && *aux.Booked {
		confirmed = true
	}
	if aux.BookingConfirmed != nil && *aux.BookingConfirmed {
		confirmed = true
	}
	r.BookingConfirmed = confirmed
	return nil
}

func (r bookServiceResponse) toResult() *fsm.BookServiceResult {
	return &fsm.BookServiceResult{
		BookingConfirmed:     r.BookingConfirmed,
		AppointmentTime:      r.AppointmentTime,
		ConfirmationMessage: r.ConfirmationMessage,
		AppointmentID:        r.AppointmentID,
		Error:                r.Error,
	}
}

type createCallbackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type sendSalesLeadAlertResponse struct {
	Success bool `json:"success"`
}
