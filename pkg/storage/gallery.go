package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// ErrUserNotFound is returned when no user has the requested id.
var ErrUserNotFound = errors.New("user not found")

// User is an enrolled person.
type User struct {
	ID        int64                 `json:"id"`
	Name      string                `json:"name"`
	ImagePath string                `json:"image_path"`
	Embedding recognition.Embedding `json:"-"`
}

// Gallery stores users with their embeddings and face images.
type Gallery struct {
	db     *DB
	images *ImageStore
}

// NewGallery creates a gallery over db writing images through images.
func NewGallery(db *DB, images *ImageStore) *Gallery {
	return &Gallery{db: db, images: images}
}

// pngMagic starts every PNG file.
var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Enroll stores a new user and its face image and returns the assigned id.
// The row and the image are written in one transaction: if the image cannot
// be saved the row is rolled back. PNG images are stored re-encoded as JPEG.
func (g *Gallery) Enroll(ctx context.Context, name string, embedding recognition.Embedding, image []byte) (*User, error) {
	if bytes.HasPrefix(image, pngMagic) {
		converted, err := recognition.EnsureJPEG(image)
		if err != nil {
			return nil, fmt.Errorf("convert image: %w", err)
		}
		image = converted
	}

	tx, err := g.db.Client.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enroll: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (name, image_path, embedding) VALUES (?, '', ?)`,
		name, EncodeEmbedding(embedding))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read user id: %w", err)
	}

	path, err := g.saveImage(id, image)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET image_path = ? WHERE id = ?`, path, id); err != nil {
		_ = g.images.Remove(path)
		return nil, fmt.Errorf("set image path: %w", err)
	}
	if err := tx.Commit(); err != nil {
		_ = g.images.Remove(path)
		return nil, fmt.Errorf("commit enroll: %w", err)
	}

	logging.Component("gallery").WithFields(logging.Fields{
		"user_id": id,
		"name":    name,
		"dims":    len(embedding),
	}).Info("User enrolled")

	return &User{ID: id, Name: name, ImagePath: path, Embedding: embedding}, nil
}

// saveImage writes the image for a freshly assigned id. AUTOINCREMENT never
// hands out the id of a committed row, so a file already at that path is
// left over from an enrollment that never committed and is replaced.
func (g *Gallery) saveImage(id int64, image []byte) (string, error) {
	path, err := g.images.Save(id, image)
	if !errors.Is(err, fs.ErrExist) {
		return path, err
	}

	orphan := g.images.PathFor(id)
	logging.Component("gallery").WithField("path", orphan).Warn("Replacing orphaned image")
	if err := g.images.Remove(orphan); err != nil {
		return "", fmt.Errorf("remove orphaned image: %w", err)
	}
	return g.images.Save(id, image)
}

// AllEmbeddings returns every enrolled user as a match candidate, in id order.
func (g *Gallery) AllEmbeddings(ctx context.Context) ([]recognition.Candidate, error) {
	users, err := g.Users(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]recognition.Candidate, len(users))
	for i, u := range users {
		candidates[i] = recognition.Candidate{UserID: u.ID, Name: u.Name, Embedding: u.Embedding}
	}
	return candidates, nil
}

// Users returns all enrolled users in id order.
func (g *Gallery) Users(ctx context.Context) ([]User, error) {
	rows, err := g.db.Client.QueryContext(ctx, `SELECT id, name, image_path, embedding FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// User returns a single user by id.
func (g *Gallery) User(ctx context.Context, id int64) (*User, error) {
	row := g.db.Client.QueryRowContext(ctx, `SELECT id, name, image_path, embedding FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Image returns the stored face image of a user.
func (g *Gallery) Image(ctx context.Context, id int64) ([]byte, error) {
	u, err := g.User(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.images.Load(u.ImagePath)
}

// Count returns the number of enrolled users.
func (g *Gallery) Count(ctx context.Context) (int, error) {
	var n int
	if err := g.db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var (
		u   User
		raw string
	)
	if err := s.Scan(&u.ID, &u.Name, &u.ImagePath, &raw); err != nil {
		return nil, err
	}
	emb, err := DecodeEmbedding(raw)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", u.ID, err)
	}
	u.Embedding = emb
	return &u, nil
}
