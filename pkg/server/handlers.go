package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/auth"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

// multipartMemory is how much of a form is buffered in memory before spilling to disk.
const multipartMemory = 8 << 20

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Please enter username and password"})
		return
	}

	token, sess, err := s.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid Credentials"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Logged in successfully",
		"token":      token,
		"expires_at": sess.ExpiresAt.Unix(),
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": attendance.Message(attendance.CodeUnauthorized)})
		return
	}
	if err := s.sessions.Logout(c.Request.Context(), token); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrSessionExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": attendance.Message(attendance.CodeUnauthorized)})
			return
		}
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) handleRegister(c *gin.Context) {
	image, ok := s.readUpload(c)
	if !ok {
		return
	}

	user, err := s.service.Register(c.Request.Context(), sessionFrom(c), c.PostForm("name"), image)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    user,
	})
}

func (s *Server) handleAttendance(c *gin.Context) {
	image, ok := s.readUpload(c)
	if !ok {
		return
	}

	result, err := s.service.MarkAttendance(c.Request.Context(), sessionFrom(c), image)
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Recognized {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"message":    result.Message(),
		"recognized": result.Recognized,
		"result":     result,
	})
}

func (s *Server) handleRecords(c *gin.Context) {
	records, err := s.service.Records(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	msg := ""
	if len(records) == 0 {
		msg = attendance.MessageNoRecords
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "records": records})
}

func (s *Server) handleUsers(c *gin.Context) {
	users, err := s.service.Users(c.Request.Context(), sessionFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	msg := ""
	if len(users) == 0 {
		msg = "No users registered"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "users": users})
}

func (s *Server) handleUserImage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid user id"})
		return
	}

	data, err := s.service.UserImage(c.Request.Context(), sessionFrom(c), id)
	if errors.Is(err, storage.ErrUserNotFound) || errors.Is(err, storage.ErrImageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Image not found"})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for _, hc := range s.checks {
		if err := hc.Check(c.Request.Context()); err != nil {
			deps[hc.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[hc.Name] = "ok"
	}

	msg := "ok"
	if status != http.StatusOK {
		msg = "degraded"
	}
	c.JSON(status, gin.H{"message": msg, "checks": deps})
}

// readUpload parses the multipart form and returns the "image" file. A
// missing file yields nil so the service reports missing input. On failure
// the response is already written and ok is false.
func (s *Server) readUpload(c *gin.Context) ([]byte, bool) {
	err := c.Request.ParseMultipartForm(multipartMemory)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Image too large"})
		return nil, false
	case errors.Is(err, http.ErrNotMultipart):
		return nil, true
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid upload"})
		return nil, false
	}

	file, _, err := c.Request.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid upload"})
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	return data, true
}

// writeError maps service errors to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var e *attendance.Error
	if !errors.As(err, &e) {
		s.internalError(c, err)
		return
	}

	status := http.StatusInternalServerError
	switch e.Code {
	case attendance.CodeMissingInput:
		status = http.StatusBadRequest
	case attendance.CodeNoFace, attendance.CodeDetectionFailed:
		status = http.StatusUnprocessableEntity
	case attendance.CodeUnauthorized:
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"message": e.Message, "code": e.Code})
}

func (s *Server) internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	logging.Component("http").WithError(err).Error("Internal error")
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}
