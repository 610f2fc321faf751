package frameserver

import (
	"fmt"
	"io"
	"net/http"

	"github.com/informalsystems/frameload/internal/logging"
	"golang.org/x/crypto/bcrypt"
)

// Controller is anything that can be taken down and brought back up.
type Controller interface {
	IsUp() bool
	Up() error
	Down() error
}

var _ Controller = (*Server)(nil)

func respond(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	fmt.Fprint(w, msg+"\n")
}

func bringUp(w http.ResponseWriter, ctl Controller) {
	if ctl.IsUp() {
		respond(w, http.StatusOK, "Server is already up")
		return
	}
	if err := ctl.Up(); err != nil {
		respond(w, http.StatusInternalServerError, "Failed to bring server up")
		return
	}
	respond(w, http.StatusOK, "Server successfully brought up")
}

func bringDown(w http.ResponseWriter, ctl Controller) {
	if !ctl.IsUp() {
		respond(w, http.StatusOK, "Server is already down")
		return
	}
	if err := ctl.Down(); err != nil {
		respond(w, http.StatusInternalServerError, "Failed to bring server down")
		return
	}
	respond(w, http.StatusOK, "Server successfully brought down")
}

// MakeControlHandler creates an HTTP handler through which one can simulate
// outages of the given controller. Sending an authenticated POST request with
// either "up" or "down" in its body brings the controller up or down
// accordingly; "status" reports its current state.
func MakeControlHandler(username, passwordHash string, ctl Controller, logger logging.Logger) func(http.ResponseWriter, *http.Request) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respond(w, http.StatusMethodNotAllowed, "Unsupported method")
			return
		}
		if r.Body == nil {
			respond(w, http.StatusBadRequest, "Missing command in request")
			return
		}
		if err := authenticate(r, username, passwordHash); err != nil {
			logger.Warn("Failed authentication attempt", "remote", r.RemoteAddr)
			respond(w, http.StatusUnauthorized, fmt.Sprintf("Error: %v", err))
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respond(w, http.StatusInternalServerError, "Internal server error while reading request body")
			return
		}
		switch string(body) {
		case "up":
			logger.Info("Attempting to bring frame server UP")
			bringUp(w, ctl)
		case "down":
			logger.Info("Attempting to bring frame server DOWN")
			bringDown(w, ctl)
		case "status":
			if ctl.IsUp() {
				respond(w, http.StatusOK, "up")
			} else {
				respond(w, http.StatusOK, "down")
			}
		default:
			respond(w, http.StatusBadRequest, "Unrecognised command")
		}
	}
}

func authenticate(req *http.Request, username, passwordHash string) error {
	u, p, ok := req.BasicAuth()
	if !ok {
		return fmt.Errorf("missing username and/or password in request")
	}
	if u != username {
		return fmt.Errorf("invalid username and/or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(p)); err != nil {
		return fmt.Errorf("invalid username and/or password")
	}
	return nil
}
