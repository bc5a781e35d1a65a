package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// BinPath is the path to the generation CLI binary.
var BinPath = "acestep"

type local struct {
	bin   string
	debug bool
}

// NewLocal returns a Generator that shells out to the generation CLI.
// Construction fails when the binary isn't on the path.
func NewLocal(ctx context.Context, bin string, debug bool) (Generator, error) {
	if bin == "" {
		bin = BinPath
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("local: couldn't find %s binary: %w", bin, err)
	}
	return &local{bin: path, debug: debug}, nil
}

func (l *local) Generate(ctx context.Context, req *GenerateRequest) (any, error) {
	out := filepath.Join(os.TempDir(), fmt.Sprintf("musegen-%d.json", time.Now().UnixNano()))
	defer os.Remove(out)

	args := []string{
		"--prompt", req.Prompt,
		"--duration", strconv.Itoa(req.Duration),
		"--output", out,
	}
	if req.InferenceSteps > 0 {
		args = append(args, "--steps", strconv.Itoa(req.InferenceSteps))
	}
	if req.GuidanceScale > 0 {
		args = append(args, "--guidance", strconv.FormatFloat(req.GuidanceScale, 'f', -1, 64))
	}
	if req.Seed != nil {
		args = append(args, "--seed", strconv.FormatInt(*req.Seed, 10))
	}
	cmd := exec.CommandContext(ctx, l.bin, args...)
	data, err := cmd.CombinedOutput()
	if err != nil {
		msg := string(data)
		return nil, fmt.Errorf("local: couldn't generate: %w: %s", err, msg)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("local: couldn't read output: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("local: couldn't unmarshal output: %w", err)
	}
	return v, nil
}
