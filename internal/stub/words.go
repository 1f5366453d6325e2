package stub

import (
	"bufio"
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
)

//go:embed words.txt
var defaultWords string

// Words is an immutable list of dictionary words used for random names and search terms
type Words struct {
	list []string
}

// DefaultWords returns the embedded word list
func DefaultWords() *Words {
	// the embedded list is one short word per line and always scans
	w, _ := parseWords(defaultWords)
	return w
}

// LoadWords reads one word per line from path (words_alpha.txt layout).
// An empty path returns the embedded list.
func LoadWords(path string) (*Words, error) {
	if path == "" {
		return DefaultWords(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read words file: %w", err)
	}
	w, err := parseWords(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read words file %s: %w", path, err)
	}
	if w.Len() == 0 {
		return nil, fmt.Errorf("words file %s contains no words", path)
	}
	return w, nil
}

func parseWords(data string) (*Words, error) {
	w := &Words{}
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			w.list = append(w.list, word)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return w, nil
}

// Len returns the number of words
func (w *Words) Len() int {
	return len(w.list)
}

// Pick returns a random word
func (w *Words) Pick() string {
	return Rando(w.list)
}

// Rando returns a uniformly random element of arr, or the zero value when empty
func Rando[T any](arr []T) T {
	var zero T
	if len(arr) == 0 {
		return zero
	}
	return arr[rand.IntN(len(arr))]
}
