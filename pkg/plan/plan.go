package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/surgeworks/stampede/pkg/types"
)

// Input is the already-parsed configuration record the compiler validates
type Input struct {
	TargetURL     string            `validate:"required,http_url"`
	TestKind      types.TestKind    `validate:"required,oneof=protocol browser"`
	TotalVUs      int               `validate:"min=1"`
	Duration      string            `validate:"required"`
	PerWorkerVUs  int               `validate:"min=1"`
	Registry      string            // container registry prefix, used when ImageRef is empty
	ImageRef      string            // explicit worker image, overrides Registry defaults
	BlobNamespace string            `validate:"required"`
	Resources     *types.WorkerResources
	EnvOverrides  map[string]string
}

var (
	validate    = validator.New()
	durationRe  = regexp.MustCompile(`^\d+[smhd]$`)
	durationMul = map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
	}
)

// Compile validates the input and produces an immutable RunPlan. Every
// failing constraint is collected into a single InvalidPlanError. Compile
// performs no I/O.
func Compile(in Input) (*types.RunPlan, error) {
	var violations []string

	if err := validate.Struct(in); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, fmt.Errorf("failed to validate plan: %w", err)
		}
		for _, fe := range verrs {
			violations = append(violations, describeViolation(fe))
		}
	}

	duration, err := parseDuration(in.Duration)
	if err != nil {
		violations = append(violations, err.Error())
	}

	if in.ImageRef == "" && in.Registry == "" {
		violations = append(violations, "either image_ref or registry is required")
	}

	if len(violations) > 0 {
		return nil, &types.InvalidPlanError{Violations: violations}
	}

	resources := defaultResources(in.TestKind)
	if in.Resources != nil {
		resources = *in.Resources
	}

	image := in.ImageRef
	if image == "" {
		image = defaultImage(in.Registry, in.TestKind)
	}

	return &types.RunPlan{
		RunID:           NewRunID(),
		TargetURL:       in.TargetURL,
		TestKind:        in.TestKind,
		TotalVUs:        in.TotalVUs,
		Duration:        duration,
		DurationSpec:    in.Duration,
		PerWorkerVUs:    in.PerWorkerVUs,
		WorkerResources: resources,
		WorkerImageRef:  image,
		BlobNamespace:   in.BlobNamespace,
		EnvOverrides:    in.EnvOverrides,
	}, nil
}

// NewRunID generates a URL-safe run identifier: a UTC timestamp plus a short
// random suffix. Uniqueness within a namespace comes from the suffix.
func NewRunID() string {
	ts := time.Now().UTC().Format("20060102_150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("run_%s_%s", ts, suffix)
}

func parseDuration(spec string) (time.Duration, error) {
	if !durationRe.MatchString(spec) {
		return 0, fmt.Errorf("duration %q must match ^\\d+[smhd]$", spec)
	}
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", spec)
	}
	return time.Duration(n) * durationMul[spec[len(spec)-1]], nil
}

func describeViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "http_url":
		return fmt.Sprintf("%s must be a well-formed http(s) URL", strings.ToLower(fe.Field()))
	case "min":
		return fmt.Sprintf("%s must be >= %s", strings.ToLower(fe.Field()), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", strings.ToLower(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s failed constraint %s", strings.ToLower(fe.Field()), fe.Tag())
	}
}

// Browser workers drive a real browser engine and need roughly double the
// resources of a protocol worker.
func defaultResources(kind types.TestKind) types.WorkerResources {
	if kind == types.TestKindBrowser {
		return types.WorkerResources{CPUCores: 2.0, MemoryGiB: 4.0}
	}
	return types.WorkerResources{CPUCores: 1.0, MemoryGiB: 2.0}
}

func defaultImage(registry string, kind types.TestKind) string {
	registry = strings.TrimSuffix(registry, "/")
	if kind == types.TestKindBrowser {
		return registry + "/k6-browser-worker:latest"
	}
	return registry + "/k6-worker:latest"
}
