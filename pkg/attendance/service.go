// Package attendance orchestrates registration, recognition and reporting.
// Every operation takes the caller's session explicitly and is rejected
// unless that session is active.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/auth"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/metrics"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

// Gallery defines the user store the service enrolls into and matches against.
type Gallery interface {
	Enroll(ctx context.Context, name string, embedding recognition.Embedding, image []byte) (*storage.User, error)
	AllEmbeddings(ctx context.Context) ([]recognition.Candidate, error)
	Users(ctx context.Context) ([]storage.User, error)
	Image(ctx context.Context, userID int64) ([]byte, error)
}

// Ledger defines the attendance log.
type Ledger interface {
	Mark(ctx context.Context, userID int64, at time.Time) (*storage.Record, error)
	Records(ctx context.Context) ([]storage.Record, error)
}

// Result is the outcome of a recognition attempt. A face that matches nobody
// is a negative result, not an error.
type Result struct {
	Recognized bool    `json:"recognized"`
	UserID     int64   `json:"user_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Similarity float64 `json:"similarity"`
	RecordID   int64   `json:"record_id,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

// Message renders the result for display.
func (r Result) Message() string {
	if !r.Recognized {
		return "Face not recognized"
	}
	return fmt.Sprintf("Attendance marked for %s", r.Name)
}

// Service implements the attendance operations.
type Service struct {
	extractor recognition.Extractor
	gallery   Gallery
	ledger    Ledger
	matcher   *recognition.Matcher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService wires the service. m may be nil.
func NewService(extractor recognition.Extractor, gallery Gallery, ledger Ledger, matcher *recognition.Matcher, m *metrics.Metrics) *Service {
	return &Service{
		extractor: extractor,
		gallery:   gallery,
		ledger:    ledger,
		matcher:   matcher,
		metrics:   m,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for attendance timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register enrolls name with the face found in image. Nothing is stored
// unless a face embedding could be extracted.
func (s *Service) Register(ctx context.Context, sess *auth.Session, name string, image []byte) (*storage.User, error) {
	if err := s.authorize(sess); err != nil {
		s.metrics.ObserveRegistration(metrics.OutcomeUnauthorized)
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" || len(image) == 0 {
		s.metrics.ObserveRegistration(metrics.OutcomeBadInput)
		return nil, NewError(CodeMissingInput, nil)
	}

	log := logging.Component("attendance").WithField("name", name)

	embedding, err := s.extract(image)
	if err != nil {
		classified := classify(err)
		s.metrics.ObserveRegistration(outcomeFor(classified))
		log.WithError(err).Warn("Registration rejected")
		return nil, classified
	}

	user, err := s.gallery.Enroll(ctx, name, embedding, image)
	if err != nil {
		s.metrics.ObserveRegistration(metrics.OutcomeError)
		return nil, fmt.Errorf("register user: %w", err)
	}

	s.metrics.ObserveRegistration(metrics.OutcomeSuccess)
	log.WithField("user_id", user.ID).Info("User registered successfully")
	return user, nil
}

// MarkAttendance recognizes the face in image and, on a match, appends an
// attendance record for the matched user.
func (s *Service) MarkAttendance(ctx context.Context, sess *auth.Session, image []byte) (Result, error) {
	if err := s.authorize(sess); err != nil {
		s.metrics.ObserveAttendance(metrics.OutcomeUnauthorized, 0)
		return Result{}, err
	}
	if len(image) == 0 {
		s.metrics.ObserveAttendance(metrics.OutcomeBadInput, 0)
		return Result{}, &Error{Code: CodeMissingInput, Message: "Please provide an image"}
	}

	log := logging.Component("attendance")

	probe, err := s.extract(image)
	if err != nil {
		classified := classify(err)
		s.metrics.ObserveAttendance(outcomeFor(classified), 0)
		log.WithError(err).Warn("Recognition failed")
		return Result{}, classified
	}

	candidates, err := s.gallery.AllEmbeddings(ctx)
	if err != nil {
		s.metrics.ObserveAttendance(metrics.OutcomeError, 0)
		return Result{}, fmt.Errorf("load gallery: %w", err)
	}

	match, ok := s.matcher.BestMatch(probe, candidates)
	if !ok {
		s.metrics.ObserveAttendance(metrics.OutcomeNotFound, 0)
		log.WithField("gallery_size", len(candidates)).Info("Face not recognized")
		return Result{Recognized: false}, nil
	}

	record, err := s.ledger.Mark(ctx, match.UserID, s.now())
	if err != nil {
		s.metrics.ObserveAttendance(metrics.OutcomeError, match.Similarity)
		return Result{}, fmt.Errorf("mark attendance: %w", err)
	}

	s.metrics.ObserveAttendance(metrics.OutcomeSuccess, match.Similarity)
	log.WithFields(logging.Fields{
		"user_id":    match.UserID,
		"name":       match.Name,
		"similarity": fmt.Sprintf("%.4f", match.Similarity),
	}).Info("Attendance marked")

	return Result{
		Recognized: true,
		UserID:     match.UserID,
		Name:       match.Name,
		Similarity: match.Similarity,
		RecordID:   record.ID,
		Timestamp:  record.Timestamp,
	}, nil
}

// Records returns the attendance ledger joined with user names.
func (s *Service) Records(ctx context.Context, sess *auth.Session) ([]storage.Record, error) {
	if err := s.authorize(sess); err != nil {
		return nil, err
	}
	records, err := s.ledger.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return records, nil
}

// Users returns every enrolled user.
func (s *Service) Users(ctx context.Context, sess *auth.Session) ([]storage.User, error) {
	if err := s.authorize(sess); err != nil {
		return nil, err
	}
	users, err := s.gallery.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if users == nil {
		users = []storage.User{}
	}
	return users, nil
}

// UserImage returns the face image stored when userID registered.
func (s *Service) UserImage(ctx context.Context, sess *auth.Session, userID int64) ([]byte, error) {
	if err := s.authorize(sess); err != nil {
		return nil, err
	}
	data, err := s.gallery.Image(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load image for user %d: %w", userID, err)
	}
	return data, nil
}

// Threshold returns the similarity a match must exceed.
func (s *Service) Threshold() float64 {
	return s.matcher.Threshold()
}

func (s *Service) authorize(sess *auth.Session) error {
	if !sess.Active(s.now()) {
		return ErrUnauthorized
	}
	return nil
}

// extract runs the extractor and turns native panics into errors.
func (s *Service) extract(image []byte) (embedding recognition.Embedding, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			embedding, err = nil, fmt.Errorf("extractor panic: %v", r)
		}
		s.metrics.ObserveExtract(s.extractor.Name(), time.Since(start))
	}()

	embedding, err = s.extractor.Extract(image)
	if err != nil {
		return nil, err
	}
	if dim := s.extractor.Dimension(); len(embedding) != dim {
		return nil, fmt.Errorf("extractor %s returned %d dimensions, expected %d", s.extractor.Name(), len(embedding), dim)
	}
	return embedding, nil
}

func classify(err error) *Error {
	if errors.Is(err, recognition.ErrNoFaceDetected) {
		return NewError(CodeNoFace, err)
	}
	e := NewError(CodeDetectionFailed, err)
	e.Message = fmt.Sprintf("%s: %v", e.Message, err)
	return e
}

func outcomeFor(e *Error) string {
	switch e.Code {
	case CodeNoFace:
		return metrics.OutcomeNoFace
	case CodeMissingInput:
		return metrics.OutcomeBadInput
	case CodeUnauthorized:
		return metrics.OutcomeUnauthorized
	default:
		return metrics.OutcomeFailed
	}
}
