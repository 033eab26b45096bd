package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"gitlab.com/timkado/api/course-data-layer/internal/application"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// LoginRequest is the expected payload for POST /v1/session/login.
type LoginRequest struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	Role         domain.Role         `json:"role"`
	User         *domain.UserProfile `json:"user,omitempty"`
}

// DataResponse wraps successful course responses.
type DataResponse struct {
	Data any `json:"data"`
}

// SessionHandler returns the current session state.
func SessionHandler(session *application.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, session.Snapshot())
	}
}

// LoginHandler stores a token pair obtained elsewhere and enters LoggedIn.
func LoginHandler(session *application.SessionStore, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn(r.Context(), "Failed to decode login payload", "error", err.Error())
			domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid request payload", err.Error()).WriteJSON(w, http.StatusBadRequest)
			return
		}
		if req.AccessToken == "" || req.RefreshToken == "" || !req.Role.Valid() {
			logger.Warn(r.Context(), "Invalid login payload", "role", string(req.Role))
			domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid payload", "access_token, refresh_token and a known role are required.").WriteJSON(w, http.StatusBadRequest)
			return
		}

		err := session.Login(r.Context(), req.AccessToken, req.RefreshToken, req.Role, req.User)
		if err != nil {
			if errors.Is(err, domain.ErrStorageWrite) {
				writeDomainError(w, err)
				return
			}
			// The tokens are stored; only the follow-up profile fetch failed.
			logger.Warn(r.Context(), "Logged in without a profile", "error", err.Error())
		}
		writeJSON(w, http.StatusOK, session.Snapshot())
	}
}

// LogoutHandler ends the session in this and every other tab.
func LogoutHandler(session *application.SessionStore, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := session.Logout(r.Context()); err != nil {
			logger.Error(r.Context(), "Logout did not clear every token", "error", err.Error())
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session.Snapshot())
	}
}

// RefreshUserHandler refetches the current user's profile.
func RefreshUserHandler(session *application.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := session.RefreshUser(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session.Snapshot())
	}
}

// CoursesHandler lists the whole catalogue.
func CoursesHandler(courses *application.CourseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := courses.FetchAll(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Data: nonNil(list)})
	}
}

// EnrolledCoursesHandler lists the courses the user is enrolled in.
func EnrolledCoursesHandler(courses *application.CourseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := courses.FetchEnrolled(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Data: nonNil(list)})
	}
}

// CourseHandler returns one course, from the store when it is already known.
func CourseHandler(courses *application.CourseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		if id == "" {
			domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid course id", "").WriteJSON(w, http.StatusBadRequest)
			return
		}
		course := courses.GetByID(r.Context(), id)
		if course == nil {
			domain.NewErrorResponse(domain.ErrCodeNotFound, "Course not found", id).WriteJSON(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, DataResponse{Data: course})
	}
}

func nonNil(list []domain.Course) []domain.Course {
	if list == nil {
		return []domain.Course{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) // Best effort, the status line is already out.
}

// writeDomainError maps err onto the façade's status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		domain.NewErrorResponse(domain.ErrCodeInternal, "Internal error", err.Error()).WriteJSON(w, http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch de.Code {
	case domain.ErrCodeAuthInvalid:
		status = http.StatusUnauthorized
	case domain.ErrCodeNotFound:
		status = http.StatusNotFound
	case domain.ErrCodeNetworkUnavailable, domain.ErrCodeUpstream:
		status = http.StatusBadGateway
	case domain.ErrCodeBadRequest:
		status = http.StatusBadRequest
	}
	domain.NewErrorResponse(de.Code, de.Message, err.Error()).WriteJSON(w, status)
}

// RegisterRoutes mounts the session and course endpoints on mux, each wrapped
// by wrap (which may be nil).
func RegisterRoutes(mux *http.ServeMux, session *application.SessionStore, courses *application.CourseStore, logger domain.Logger, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(h http.Handler) http.Handler { return h }
	}
	mux.Handle("GET /v1/session", wrap(SessionHandler(session)))
	mux.Handle("POST /v1/session/login", wrap(LoginHandler(session, logger)))
	mux.Handle("POST /v1/session/logout", wrap(LogoutHandler(session, logger)))
	mux.Handle("POST /v1/session/refresh", wrap(RefreshUserHandler(session)))
	mux.Handle("GET /v1/courses", wrap(CoursesHandler(courses)))
	mux.Handle("GET /v1/courses/enrolled", wrap(EnrolledCoursesHandler(courses)))
	mux.Handle("GET /v1/courses/{id}", wrap(CourseHandler(courses)))
}
