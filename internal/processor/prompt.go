package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/jobforge/pkg/models"
)

const maxInputBytes = 16 << 10

var instructions = map[models.JobType]string{
	models.JobTypeResumeGeneration: "Write a concise, achievement-focused resume in Markdown " +
		"using the candidate details below.",
	models.JobTypeCoverLetterGeneration: "Write a one-page cover letter tailored to the role and " +
		"company below. Keep a professional, specific tone.",
	models.JobTypeATSAnalysis: "Score the resume below against the job description for applicant " +
		"tracking systems. List missing keywords and concrete fixes.",
	models.JobTypeContentOptimization: "Rewrite the content below to be clearer and more impactful " +
		"while preserving every fact.",
}

// buildPrompt renders the instruction for job.JobType followed by its input.
func buildPrompt(job *models.Job) string {
	instruction, ok := instructions[job.JobType]
	if !ok {
		instruction = fmt.Sprintf("Complete the %s task using the input below.", job.JobType)
	}

	input := []byte(job.InputData)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, input, "", "  "); err == nil {
		input = pretty.Bytes()
	}
	return instruction + "\n\nInput:\n" + truncate(string(input), maxInputBytes)
}

// generation is the result payload stored on completed jobs.
type generation struct {
	JobType     models.JobType `json:"job_type"`
	Content     string         `json:"content"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	GeneratedAt time.Time      `json:"generated_at"`
}

func encodeResult(job *models.Job, provider, model, content string) (json.RawMessage, error) {
	out, err := json.Marshal(generation{
		JobType:     job.JobType,
		Content:     content,
		Provider:    provider,
		Model:       model,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", provider, err)
	}
	return out, nil
}

// truncate cuts s to maxBytes without splitting UTF-8 runes.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
