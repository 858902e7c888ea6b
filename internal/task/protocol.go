// Package task implements the document protocol between the verification
// loop and spawned instances.
//
// A task document hands a spawned instance everything it needs: the goal,
// the session's history so far, and the verification command. A result
// document is what the spawned instance writes back. Both are markdown with
// a YAML frontmatter block, so they are readable by humans and by the agent
// that receives them as a prompt.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"ralphloop/internal/logging"
)

// Result statuses a spawned instance may report.
const (
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
	StatusError   = "ERROR"
	StatusTimeout = "TIMEOUT"
)

// Metadata is the YAML frontmatter of a task document.
type Metadata struct {
	ID                  string    `yaml:"id"`
	Created             time.Time `yaml:"created"`
	OriginalRequest     string    `yaml:"original_request"`
	VerificationCommand string    `yaml:"verification_command"`
	MaxIterations       int       `yaml:"max_iterations"`
	CurrentIteration    int       `yaml:"current_iteration"`
	TimeoutSeconds      int       `yaml:"timeout_seconds"`
	WorkingDirectory    string    `yaml:"working_directory"`
	MaxBudgetUSD        float64   `yaml:"max_budget_usd"`
}

// Document is a full task document.
type Document struct {
	Meta          Metadata
	OriginalGoal  string
	SessionStory  string
	ChangeSummary string // omitted from the rendered doc when empty
	CurrentState  string
	LastFailure   string
	TryNext       string
	Instructions  string
}

// ResultMetadata is the YAML frontmatter of a result document.
type ResultMetadata struct {
	TaskID         string    `yaml:"task_id"`
	Status         string    `yaml:"status"` // PASS, FAIL, ERROR, TIMEOUT
	Completed      time.Time `yaml:"completed"`
	IterationsUsed int       `yaml:"iterations_used,omitempty"`
	CostUSD        float64   `yaml:"cost_usd,omitempty"`
}

// ResultDocument is what a spawned instance reports back. ChangesMade is a
// bulleted list; VerificationOutput is rendered inside a fenced code block so
// tool output cannot break the document structure.
type ResultDocument struct {
	Meta               ResultMetadata
	Summary            string
	ChangesMade        []string
	VerificationOutput string
	LessonLearned      string
}

// GenerateID returns a fresh task id of the form task-xxxxxxxx.
func GenerateID() string {
	return "task-" + uuid.NewString()[:8]
}

// defaultInstructions is appended to every task document so the spawned
// instance knows the contract it is working under.
const defaultInstructions = `1. Read the sections above carefully; do not repeat approaches that already failed.
2. Make the change you believe fixes the failure.
3. Run the verification command yourself and confirm it passes.
4. Write a result document next to this task file, replacing "task" with "result" in the filename, using the same frontmatter format with a status of PASS, FAIL, ERROR, or TIMEOUT.`

// Store reads and writes task documents under a single directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// TaskPath returns the on-disk path for a task id.
func (s *Store) TaskPath(id string) string {
	return filepath.Join(s.dir, id+".md")
}

// ResultPath returns the path where a result for the given task id is
// expected.
func (s *Store) ResultPath(taskID string) string {
	return filepath.Join(s.dir, strings.Replace(taskID, "task-", "result-", 1)+".md")
}

// WriteTask renders and persists a task document, returning its path.
func (s *Store) WriteTask(doc Document) (string, error) {
	if doc.Meta.ID == "" {
		doc.Meta.ID = GenerateID()
	}
	if doc.Meta.Created.IsZero() {
		doc.Meta.Created = time.Now()
	}
	if doc.Instructions == "" {
		doc.Instructions = defaultInstructions
	}

	path := s.TaskPath(doc.Meta.ID)
	if err := os.WriteFile(path, []byte(RenderTask(doc)), 0644); err != nil {
		return "", fmt.Errorf("failed to write task document: %w", err)
	}
	logging.Tasks("wrote task %s to %s", doc.Meta.ID, path)
	return path, nil
}

// ReadTask loads and parses a task document by id.
func (s *Store) ReadTask(id string) (Document, error) {
	data, err := os.ReadFile(s.TaskPath(id))
	if err != nil {
		return Document{}, fmt.Errorf("failed to read task %s: %w", id, err)
	}
	return ParseTask(string(data))
}

// ReadResult loads the result document for a task id, if the spawned
// instance wrote one.
func (s *Store) ReadResult(taskID string) (ResultDocument, error) {
	data, err := os.ReadFile(s.ResultPath(taskID))
	if err != nil {
		return ResultDocument{}, fmt.Errorf("no result for task %s: %w", taskID, err)
	}
	return ParseResult(string(data))
}

// WriteResult renders and persists a result document, returning its path.
func (s *Store) WriteResult(doc ResultDocument) (string, error) {
	if doc.Meta.Completed.IsZero() {
		doc.Meta.Completed = time.Now()
	}
	path := s.ResultPath(doc.Meta.TaskID)
	if err := os.WriteFile(path, []byte(RenderResult(doc)), 0644); err != nil {
		return "", fmt.Errorf("failed to write result document: %w", err)
	}
	return path, nil
}

// PendingTasks returns the ids of task documents that have no matching
// result yet, oldest first.
func (s *Store) PendingTasks() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks dir: %w", err)
	}

	type pending struct {
		id      string
		modTime time.Time
	}
	var out []pending
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "task-") || !strings.HasSuffix(name, ".md") {
			continue
		}
		id := strings.TrimSuffix(name, ".md")
		if _, err := os.Stat(s.ResultPath(id)); err == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, pending{id: id, modTime: info.ModTime()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].modTime.Before(out[j].modTime) })

	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.id
	}
	return ids, nil
}

// CleanupOld removes task and result documents older than maxAge, returning
// the number removed.
func (s *Store) CleanupOld(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list tasks dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		if !strings.HasPrefix(name, "task-") && !strings.HasPrefix(name, "result-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logging.Tasks("cleaned up %d old task documents", removed)
	}
	return removed, nil
}

// RenderTask renders a task document. Rendering is canonical: parsing the
// output and rendering again produces identical bytes.
func RenderTask(doc Document) string {
	var b strings.Builder

	b.WriteString("---\n")
	meta, _ := yaml.Marshal(doc.Meta)
	b.Write(meta)
	b.WriteString("---\n")

	writeSection(&b, "Original Goal", doc.OriginalGoal)
	writeSection(&b, "Session Story", doc.SessionStory)
	if strings.TrimSpace(doc.ChangeSummary) != "" {
		writeSection(&b, "Git-Style Change Summary", doc.ChangeSummary)
	}
	writeSection(&b, "Current State", doc.CurrentState)
	writeSection(&b, "Last Failure", doc.LastFailure)
	writeSection(&b, "What To Try Next", doc.TryNext)
	writeSection(&b, "Instructions", doc.Instructions)

	return b.String()
}

// RenderResult renders a result document. Same canonical property as
// RenderTask.
func RenderResult(doc ResultDocument) string {
	var b strings.Builder

	b.WriteString("---\n")
	meta, _ := yaml.Marshal(doc.Meta)
	b.Write(meta)
	b.WriteString("---\n")

	writeSection(&b, "Summary", doc.Summary)
	writeSection(&b, "Changes Made", renderBullets(doc.ChangesMade))
	writeSection(&b, "Verification Output", renderFenced(doc.VerificationOutput))
	writeSection(&b, "Lesson Learned", doc.LessonLearned)

	return b.String()
}

func renderBullets(items []string) string {
	var lines []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			lines = append(lines, "- "+item)
		}
	}
	return strings.Join(lines, "\n")
}

func renderFenced(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	return "```\n" + body + "\n```"
}

func writeSection(b *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		body = "(none)"
	}
	fmt.Fprintf(b, "\n## %s\n\n%s\n", title, body)
}

// ParseTask parses a rendered task document. Parsing is best-effort:
// unknown sections are ignored and missing sections come back empty.
func ParseTask(text string) (Document, error) {
	front, sections, err := splitDocument(text)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(front), &doc.Meta); err != nil {
		return Document{}, fmt.Errorf("invalid task frontmatter: %w", err)
	}

	doc.OriginalGoal = sections["Original Goal"]
	doc.SessionStory = sections["Session Story"]
	doc.ChangeSummary = sections["Git-Style Change Summary"]
	doc.CurrentState = sections["Current State"]
	doc.LastFailure = sections["Last Failure"]
	doc.TryNext = sections["What To Try Next"]
	doc.Instructions = sections["Instructions"]
	return doc, nil
}

// ParseResult parses a rendered result document. A status outside the known
// set is coerced to ERROR; spawned instances do not always follow the
// contract exactly.
func ParseResult(text string) (ResultDocument, error) {
	front, sections, err := splitDocument(text)
	if err != nil {
		return ResultDocument{}, err
	}

	var doc ResultDocument
	if err := yaml.Unmarshal([]byte(front), &doc.Meta); err != nil {
		return ResultDocument{}, fmt.Errorf("invalid result frontmatter: %w", err)
	}

	switch doc.Meta.Status {
	case StatusPass, StatusFail, StatusError, StatusTimeout:
	default:
		doc.Meta.Status = StatusError
	}

	doc.Summary = sections["Summary"]
	doc.ChangesMade = parseBullets(sections["Changes Made"])
	doc.VerificationOutput = stripFence(sections["Verification Output"])
	doc.LessonLearned = sections["Lesson Learned"]
	return doc, nil
}

func parseBullets(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

func stripFence(body string) string {
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// splitDocument separates YAML frontmatter from the markdown sections.
// Sections are recognized by "## " headings; body text runs until the next
// heading. A "(none)" body parses back to empty, matching writeSection.
func splitDocument(text string) (front string, sections map[string]string, err error) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", nil, fmt.Errorf("document has no frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return "", nil, fmt.Errorf("unterminated frontmatter")
	}

	front = strings.Join(lines[1:end], "\n")

	sections = make(map[string]string)
	var title string
	var body []string
	flush := func() {
		if title == "" {
			return
		}
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "(none)" {
			content = ""
		}
		sections[title] = content
	}
	for _, line := range lines[end+1:] {
		if strings.HasPrefix(line, "## ") {
			flush()
			title = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			body = body[:0]
			continue
		}
		body = append(body, line)
	}
	flush()

	return front, sections, nil
}
