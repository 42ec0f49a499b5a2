// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package portal

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/arcflow/conductor/pkg/errors"
)

const auditTimeout = 10 * time.Second

// runGit invokes git in dir with a hard per-call timeout, matching the
// subprocess-invocation style of the teacher's shell action connector
// (exec.CommandContext, captured stdout/stderr, duration tracking).
func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.WrapKind(errors.KindGitError, fmt.Sprintf("git %s timed out", strings.Join(args, " ")), ctx.Err())
	}
	if err != nil {
		return "", errors.WrapKind(errors.KindGitError, fmt.Sprintf("git %s failed: %s", strings.Join(args, " "), stderr.String()), err)
	}
	return stdout.String(), nil
}

// Audit runs `git status --porcelain` under the portal root and returns
// paths not present in authorizedFiles.
func Audit(ctx context.Context, portalPath string, authorizedFiles []string) ([]string, error) {
	authorized := make(map[string]bool, len(authorizedFiles))
	for _, f := range authorizedFiles {
		authorized[f] = true
	}

	out, err := runGit(ctx, portalPath, auditTimeout, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var unauthorized []string
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if len(line) < 3 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if !authorized[path] {
			unauthorized = append(unauthorized, path)
		}
	}
	return unauthorized, nil
}

// RevertResult reports the outcome of a Revert call.
type RevertResult struct {
	Succeeded []string
	Failed    map[string]error
}

// Revert partitions files into tracked (restored to HEAD) and untracked
// (deleted), processing in chunks of revertConcurrency with each chunk
// awaited before the next. Every subprocess call has its own timeout.
func Revert(ctx context.Context, portalPath string, files []string, revertConcurrency int) (*RevertResult, error) {
	if revertConcurrency <= 0 {
		revertConcurrency = 1
	}

	result := &RevertResult{Failed: make(map[string]error)}

	for start := 0; start < len(files); start += revertConcurrency {
		end := start + revertConcurrency
		if end > len(files) {
			end = len(files)
		}
		chunk := files[start:end]

		type outcome struct {
			file string
			err  error
		}
		outcomes := make(chan outcome, len(chunk))

		for _, f := range chunk {
			go func(file string) {
				outcomes <- outcome{file: file, err: revertOne(ctx, portalPath, file)}
			}(f)
		}

		for range chunk {
			o := <-outcomes
			if o.err != nil {
				result.Failed[o.file] = o.err
			} else {
				result.Succeeded = append(result.Succeeded, o.file)
			}
		}
	}

	if len(result.Failed) > 0 {
		names := make([]string, 0, len(result.Failed))
		for f := range result.Failed {
			names = append(names, f)
		}
		return result, errors.NewKind(errors.KindGitError, fmt.Sprintf("revert failed for: %s", strings.Join(names, ", ")))
	}

	return result, nil
}

func revertOne(ctx context.Context, portalPath, file string) error {
	tracked, err := isTracked(ctx, portalPath, file)
	if err != nil {
		return err
	}

	if tracked {
		_, err := runGit(ctx, portalPath, auditTimeout, "checkout", "HEAD", "--", file)
		return err
	}

	_, err = runGit(ctx, portalPath, auditTimeout, "clean", "-f", file)
	return err
}

// isTracked runs `git ls-files --error-unmatch <file>`. A non-zero exit
// with no timeout means "untracked", which is an expected outcome, not a
// failure; a timeout is a genuine git_error.
func isTracked(ctx context.Context, portalPath, file string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", "ls-files", "--error-unmatch", file)
	cmd.Dir = portalPath

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return false, errors.WrapKind(errors.KindGitError, fmt.Sprintf("git ls-files timed out for %s", file), cctx.Err())
	}
	if err != nil {
		return false, nil
	}
	return true, nil
}
