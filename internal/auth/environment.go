// Package auth identifies the runtime environment and resolves Google
// credentials for the cloud clients.
package auth

import (
	"strings"

	"dpm/internal/domain"
)

// EnvKind is the kind of runtime environment.
type EnvKind string

// Environment kinds.
const (
	EnvLocal           EnvKind = "LOCAL"
	EnvColab           EnvKind = "COLAB"
	EnvColabEnterprise EnvKind = "COLAB_ENTERPRISE"
	EnvCloudProject    EnvKind = "GCP"
)

// Environment is where the toolkit runs. ProjectID is set for
// EnvCloudProject and, when known, for EnvColabEnterprise.
type Environment struct {
	Kind      EnvKind `json:"kind"`
	ProjectID string  `json:"project_id,omitempty"`
}

func (e Environment) String() string {
	if e.Kind == EnvCloudProject {
		return e.ProjectID
	}
	return string(e.Kind)
}

// IsNotebook reports whether the environment is a hosted notebook runtime.
func (e Environment) IsNotebook() bool {
	return e.Kind == EnvColab || e.Kind == EnvColabEnterprise
}

// ParseEnvironment maps an identifier onto an Environment. LOCAL, COLAB and
// COLAB_ENTERPRISE are reserved words (case-insensitive); anything else is a
// GCP project id.
func ParseEnvironment(s string) (Environment, error) {
	s = strings.TrimSpace(s)
	switch EnvKind(strings.ToUpper(s)) {
	case "":
		return Environment{}, domain.ErrValidation("environment identifier is empty")
	case EnvLocal:
		return Environment{Kind: EnvLocal}, nil
	case EnvColab:
		return Environment{Kind: EnvColab}, nil
	case EnvColabEnterprise:
		return Environment{Kind: EnvColabEnterprise}, nil
	case EnvCloudProject:
		return Environment{}, domain.ErrValidation("%q is reserved, pass the project id instead", s)
	}
	return Environment{Kind: EnvCloudProject, ProjectID: s}, nil
}

// DetectEnvironment inspects environment variables: a Vertex notebook
// (VERTEX_PRODUCT=COLAB_ENTERPRISE) wins, then GOOGLE_CLOUD_PROJECT, then a
// Colab runtime (COLAB_RELEASE_TAG), and finally LOCAL.
func DetectEnvironment(getenv func(string) string) Environment {
	project := strings.TrimSpace(getenv("GOOGLE_CLOUD_PROJECT"))
	switch {
	case strings.EqualFold(getenv("VERTEX_PRODUCT"), string(EnvColabEnterprise)):
		return Environment{Kind: EnvColabEnterprise, ProjectID: project}
	case project != "":
		return Environment{Kind: EnvCloudProject, ProjectID: project}
	case getenv("COLAB_RELEASE_TAG") != "":
		return Environment{Kind: EnvColab}
	}
	return Environment{Kind: EnvLocal}
}

// ResolveProjectID picks the GCP project for an operation: an explicit
// override, then the project part of a three-part table name, then the
// environment's project, then GOOGLE_CLOUD_PROJECT.
func ResolveProjectID(override, tableName string, env Environment, getenv func(string) string) (string, error) {
	if p := strings.TrimSpace(override); p != "" {
		return p, nil
	}
	if parts := strings.Split(strings.Trim(tableName, "`"), "."); len(parts) == 3 && parts[0] != "" {
		return parts[0], nil
	}
	if env.ProjectID != "" {
		return env.ProjectID, nil
	}
	if p := strings.TrimSpace(getenv("GOOGLE_CLOUD_PROJECT")); p != "" {
		return p, nil
	}
	return "", domain.ErrValidation("cannot determine the GCP project: set --project, use project.dataset.table or GOOGLE_CLOUD_PROJECT")
}
