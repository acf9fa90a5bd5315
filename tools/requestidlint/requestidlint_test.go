package requestidlint_test

import (
	"testing"

	"github.com/rivergate/jobqueue/tools/requestidlint"
	"golang.org/x/tools/go/analysis/analysistest"
)

func TestAnalyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), requestidlint.Analyzer, "internal/adminapi/good", "internal/adminapi/bad")
}
