// Package puzzles loads the puzzle catalog and picks the puzzle for each new
// room.
package puzzles

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/mcdev12/codeduel/go/internal/models"
	"gopkg.in/yaml.v3"
)

var ErrEmptyCatalog = errors.New("puzzle catalog is empty")

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Puzzles []puzzleEntry `yaml:"puzzles"`
}

type puzzleEntry struct {
	ID          string          `yaml:"id"`
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	StarterCode string          `yaml:"starter_code"`
	TestCases   []testCaseEntry `yaml:"testcases"`
}

type testCaseEntry struct {
	Input  any `yaml:"input"`
	Output any `yaml:"output"`
}

// LoadCatalog reads a YAML puzzle catalog from path.
func LoadCatalog(path string) ([]models.Puzzle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read puzzle catalog: %w", err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() []models.Puzzle {
	puzzles, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in puzzle catalog is invalid: %v", err))
	}
	return puzzles
}

// ParseCatalog decodes a YAML catalog. Every puzzle needs an id and at least
// one test case.
func ParseCatalog(data []byte) ([]models.Puzzle, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse puzzle catalog: %w", err)
	}
	if len(file.Puzzles) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]bool, len(file.Puzzles))
	puzzles := make([]models.Puzzle, 0, len(file.Puzzles))
	for i, entry := range file.Puzzles {
		if entry.ID == "" {
			return nil, fmt.Errorf("puzzle %d: id is required", i)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("puzzle %s: duplicate id", entry.ID)
		}
		seen[entry.ID] = true
		if len(entry.TestCases) == 0 {
			return nil, fmt.Errorf("puzzle %s: at least one test case is required", entry.ID)
		}

		p := models.Puzzle{
			ID:              entry.ID,
			Title:           entry.Title,
			Description:     entry.Description,
			StarterTemplate: entry.StarterCode,
			TestCases:       make([]models.TestCase, 0, len(entry.TestCases)),
		}
		for j, tc := range entry.TestCases {
			input, err := json.Marshal(tc.Input)
			if err != nil {
				return nil, fmt.Errorf("puzzle %s: test case %d input: %w", entry.ID, j, err)
			}
			output, err := json.Marshal(tc.Output)
			if err != nil {
				return nil, fmt.Errorf("puzzle %s: test case %d output: %w", entry.ID, j, err)
			}
			p.TestCases = append(p.TestCases, models.TestCase{Input: input, ExpectedOutput: output})
		}
		puzzles = append(puzzles, p)
	}
	return puzzles, nil
}

// FixedSelector always hands out the first puzzle of its catalog.
type FixedSelector struct {
	puzzles []models.Puzzle
}

func NewFixedSelector(puzzles []models.Puzzle) *FixedSelector {
	return &FixedSelector{puzzles: puzzles}
}

func (s *FixedSelector) SelectPuzzle() (models.Puzzle, error) {
	if len(s.puzzles) == 0 {
		return models.Puzzle{}, ErrEmptyCatalog
	}
	return s.puzzles[0], nil
}

// RandomSelector picks a puzzle uniformly at random.
type RandomSelector struct {
	puzzles []models.Puzzle

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector seeds the RNG with seed, or with the current time when
// seed is zero.
func NewRandomSelector(puzzles []models.Puzzle, seed int64) *RandomSelector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSelector{
		puzzles: puzzles,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (s *RandomSelector) SelectPuzzle() (models.Puzzle, error) {
	if len(s.puzzles) == 0 {
		return models.Puzzle{}, ErrEmptyCatalog
	}
	s.mu.Lock()
	i := s.rng.Intn(len(s.puzzles))
	s.mu.Unlock()
	return s.puzzles[i], nil
}
