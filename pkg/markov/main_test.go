package markov

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// mustBuild builds a table from space-separated words or fails the test.
func mustBuild(t testing.TB, text string, n int) *Table {
	t.Helper()
	table, err := Build(strings.Fields(text), n)
	if err != nil {
		t.Fatalf("Build(%q, %d) error = %v", text, n, err)
	}
	return table
}

// fishText contains no dead ends for orders 1 and 2: its final n-gram also
// appears earlier with a successor.
const fishText = "one fish two fish red fish blue fish one fish"

var (
	benchmarkCorpus []string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() []string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				sb.Reset()
				sb.WriteString("this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. ")
				break
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = strings.Fields(sb.String())
	})
	return benchmarkCorpus
}
