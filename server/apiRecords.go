package server

import (
	"errors"
	"net/http"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server/records"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const maxJSONBody = 1024 * 1024

// The whole history, or one doctor's history if doctor_email is given
func (s *Server) httpHistory(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var recs []records.Record
	var err error
	if email := r.URL.Query().Get("doctor_email"); email != "" {
		recs, err = s.Records.List(email)
	} else {
		recs, err = s.Records.ListAll()
	}
	if err != nil {
		s.Log.Errorf("Error fetching history: %v", err)
		www.PanicServerError("Unable to fetch history")
	}
	www.SendJSON(w, recs)
}

func (s *Server) httpInfos(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	recs, err := s.Records.List(params.ByName("email"))
	if err != nil {
		s.Log.Errorf("Error fetching records: %v", err)
		www.PanicServerError("Unable to fetch records")
	}
	www.SendJSON(w, recs)
}

func (s *Server) httpAddRecord(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec := records.Record{}
	www.ReadJSON(w, r, &rec, maxJSONBody)
	rec.DoctorEmail = params.ByName("email")
	if err := s.Records.Add(&rec); err != nil {
		s.Log.Errorf("Error adding record: %v", err)
		www.PanicServerError("Unable to add record")
	}
	sendJSONStatus(w, http.StatusCreated, &rec)
}

func (s *Server) httpUpdateRecord(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	patch := records.Patch{}
	www.ReadJSON(w, r, &patch, maxJSONBody)
	rec, err := s.Records.Update(params.ByName("email"), www.ParseID(params.ByName("id")), &patch)
	if errors.Is(err, records.ErrNotFound) {
		sendJSONStatus(w, http.StatusNotFound, messageResponse{"Record not found"})
		return
	} else if err != nil {
		s.Log.Errorf("Error updating record: %v", err)
		www.PanicServerError("Unable to update record")
	}
	www.SendJSON(w, rec)
}

func (s *Server) httpDeleteRecord(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	err := s.Records.Delete(params.ByName("email"), www.ParseID(params.ByName("id")))
	if errors.Is(err, records.ErrNotFound) {
		sendJSONStatus(w, http.StatusNotFound, messageResponse{"Record not found"})
		return
	} else if err != nil {
		s.Log.Errorf("Error deleting record: %v", err)
		www.PanicServerError("Unable to delete record")
	}
	www.SendJSON(w, messageResponse{"Record deleted"})
}
