package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// fileContents is the on-disk layout: service namespace -> entry name -> value.
type fileContents struct {
	Services map[string]map[string]string `json:"services"`
}

// FileStore keeps credentials in a JSON file readable only by the owner.
// Other service namespaces in the same file are preserved across writes.
type FileStore struct {
	path    string
	service string
}

// NewFileStore returns a store backed by path, scoped to service.
func NewFileStore(path, service string) *FileStore {
	if service == "" {
		service = DefaultService
	}
	return &FileStore{path: path, service: service}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(_ context.Context, cred Credential) error {
	return s.update(func(services map[string]map[string]string) {
		services[s.service] = entries(cred)
	})
}

func (s *FileStore) Load(_ context.Context) (*Credential, error) {
	contents, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	values, ok := contents.Services[s.service]
	if !ok {
		return nil, ErrNoCredential
	}
	return fromEntries(values)
}

func (s *FileStore) Clear(_ context.Context) error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return s.update(func(services map[string]map[string]string) {
		delete(services, s.service)
	})
}

func (s *FileStore) read() (*fileContents, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &contents, nil
}

// update applies fn to the stored namespaces under the file lock and writes
// the result through a temp file and rename.
func (s *FileStore) update(fn func(map[string]map[string]string)) error {
	lock, err := lockFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	// An unreadable or corrupt file is replaced rather than blocking writes.
	contents, err := s.read()
	if err != nil {
		contents = &fileContents{}
	}
	if contents.Services == nil {
		contents.Services = make(map[string]map[string]string)
	}

	fn(contents.Services)

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
