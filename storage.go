package localmr

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is the staging layer workers exchange task files through.
type Store interface {
	// Write publishes the ordered entries under name, owned by task
	// (kind, taskID). Readers never observe a partially written file.
	Write(entries []KeyValue, name string, taskID int, kind TaskKind) error

	// ReadEntries resolves name through the file index and decodes its
	// tab-separated entries.
	ReadEntries(name string, taskID int, kind TaskKind) ([]KeyValue, error)

	// ReadFile resolves name directly under the output root and returns
	// its entire content. Used for raw map inputs.
	ReadFile(name string, taskID int, kind TaskKind) ([]byte, error)

	// ClearFiles removes published files by name, dropping them from the
	// index and deleting emptied task directories.
	ClearFiles(names []string, taskID int, kind TaskKind) error
}

// FileStore stages task outputs in per-task directories under a single root.
// Each file is written to a uuid-suffixed temporary and atomically renamed
// over its final name, so two instances of the same retried task cannot
// corrupt observable state; the last rename wins with equivalent content.
//
// The root must not span filesystems: rename atomicity is only guaranteed on
// a single one.
type FileStore struct {
	mu    sync.Mutex
	root  string
	locks map[string]*sync.Mutex

	// index maps a file name, unique across the job, to its currently
	// published path.
	index sync.Map

	logger *zap.Logger
}

// NewFileStore creates a staging store rooted at root. A nil logger
// disables logging.
func NewFileStore(root string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		root:   root,
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// SetRoot changes the output root directory. Call it before any write.
func (s *FileStore) SetRoot(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = path
}

func (s *FileStore) rootDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// taskLock returns the mutex serializing all operations on one task's
// directory, creating it on first use.
func (s *FileStore) taskLock(kind TaskKind, id int) *sync.Mutex {
	key := taskDirName(kind, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *FileStore) Write(entries []KeyValue, name string, taskID int, kind TaskKind) error {
	l := s.taskLock(kind, taskID)
	l.Lock()
	defer l.Unlock()

	root := s.rootDir()
	dir := filepath.Join(root, taskDirName(kind, taskID))
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return wrapKind(ErrIO, errors.Wrapf(err, "create task directory %s", dir))
	}

	// A previous instance of this task may have died mid-write.
	s.sweepStaleTemps(dir, name)

	tmp := filepath.Join(dir, name+"."+uuid.NewString()+".tmp")
	if err := writeEntriesFile(tmp, entries); err != nil {
		return wrapKind(ErrIO, errors.Wrapf(err, "stage %s", name))
	}

	final := filepath.Join(dir, name)
	if err := os.Rename(tmp, final); err != nil {
		return wrapKind(ErrIO, errors.Wrapf(err, "publish %s", name))
	}
	s.index.Store(name, final)

	// Final reduce outputs are promoted out of the scratch directory so
	// they survive its removal.
	if kind == ReduceTask && strings.HasPrefix(name, reduceOutPrefix) {
		promoted := filepath.Join(root, name)
		if err := os.Rename(final, promoted); err != nil {
			return wrapKind(ErrIO, errors.Wrapf(err, "promote %s", name))
		}
		s.index.Store(name, promoted)
		// Fails while the directory still holds files, which is fine.
		_ = os.Remove(dir)
	}

	s.logger.Debug("published file",
		zap.String("name", name),
		zap.String("kind", string(kind)),
		zap.Int("task", taskID),
		zap.Int("entries", len(entries)))
	return nil
}

// sweepStaleTemps removes leftover name.*.tmp files from an earlier,
// abandoned write of the same name.
func (s *FileStore) sweepStaleTemps(dir, name string) {
	stale, err := filepath.Glob(filepath.Join(dir, name+".*.tmp"))
	if err != nil {
		return
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("could not remove stale temp file", zap.String("path", path), zap.Error(err))
		}
	}
}

func writeEntriesFile(path string, entries []KeyValue) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, kv := range entries {
		w.WriteString(kv.Key)
		w.WriteByte('\t')
		w.WriteString(kv.Value)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *FileStore) ReadEntries(name string, taskID int, kind TaskKind) ([]KeyValue, error) {
	l := s.taskLock(kind, taskID)
	l.Lock()
	defer l.Unlock()

	v, ok := s.index.Load(name)
	if !ok {
		return nil, wrapKind(ErrNotFound, errors.Errorf("%s is not in the file index", name))
	}
	path := v.(string)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapKind(ErrNotFound, errors.Wrapf(err, "open %s", name))
		}
		return nil, wrapKind(ErrIO, errors.Wrapf(err, "open %s", name))
	}
	defer f.Close()

	var entries []KeyValue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		i := strings.IndexByte(line, '\t')
		if i < 0 {
			// Not a key-value record.
			continue
		}
		entries = append(entries, KeyValue{Key: line[:i], Value: line[i+1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapKind(ErrIO, errors.Wrapf(err, "read %s", name))
	}
	return entries, nil
}

func (s *FileStore) ReadFile(name string, taskID int, kind TaskKind) ([]byte, error) {
	path := filepath.Join(s.rootDir(), name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapKind(ErrNotFound, errors.Wrapf(err, "read input %s", name))
		}
		return nil, wrapKind(ErrIO, errors.Wrapf(err, "read input %s", name))
	}
	return data, nil
}

func (s *FileStore) ClearFiles(names []string, taskID int, kind TaskKind) error {
	l := s.taskLock(kind, taskID)
	l.Lock()
	defer l.Unlock()

	for _, name := range names {
		v, ok := s.index.LoadAndDelete(name)
		if !ok {
			// Already cleared by an earlier instance of this task.
			continue
		}
		path := v.(string)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return wrapKind(ErrIO, errors.Wrapf(err, "remove %s", name))
		}
		// Fails while the directory still holds files, which is fine.
		_ = os.Remove(filepath.Dir(path))
	}
	return nil
}
