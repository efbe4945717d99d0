package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BaSui01/ragflow/types"
)

// Artifact 证据包引用的工件:路径加内容校验和,不内嵌原始日志。
type Artifact struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Bundle 一轮评估的证据包。Signature 为空表示未配置签名密钥。
type Bundle struct {
	RunID        string     `json:"run_id"`
	GeneratedAt  time.Time  `json:"generated_at"`
	IndexVersion uint64     `json:"index_version"`
	Artifacts    []Artifact `json:"artifacts"`
	LedgerHead   string     `json:"ledger_head,omitempty"`
	Signature    string     `json:"signature,omitempty"`
}

// BuildBundle 对工件逐个求校验和并组包。signingKey 非空时附加
// HS256 JWT 签名,载荷为包摘要。
func BuildBundle(runID string, indexVersion uint64, artifactPaths []string, ledgerHead, signingKey string) (*Bundle, error) {
	artifacts := make([]Artifact, 0, len(artifactPaths))
	for _, path := range artifactPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, types.NewError(types.ErrNotFound,
				fmt.Sprintf("bundle artifact not readable: %s", path)).WithCause(err)
		}
		sum := sha256.Sum256(raw)
		artifacts = append(artifacts, Artifact{Path: path, SHA256: hex.EncodeToString(sum[:])})
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })

	bundle := &Bundle{
		RunID:        runID,
		GeneratedAt:  time.Now().UTC(),
		IndexVersion: indexVersion,
		Artifacts:    artifacts,
		LedgerHead:   ledgerHead,
	}
	if signingKey != "" {
		sig, err := signBundle(bundle, signingKey)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "bundle signing failed").WithCause(err)
		}
		bundle.Signature = sig
	}
	return bundle, nil
}

// VerifyBundle 校验证据包签名与摘要一致性。未签名的包直接通过。
func VerifyBundle(bundle *Bundle, signingKey string) error {
	if bundle.Signature == "" {
		return nil
	}
	token, err := jwt.Parse(bundle.Signature,
		func(*jwt.Token) (any, error) { return []byte(signingKey), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return types.NewError(types.ErrIndexCorruption, "bundle signature not valid").WithCause(err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.NewError(types.ErrIndexCorruption, "bundle signature claims malformed")
	}
	digest, _ := claims["digest"].(string)
	if digest != bundleDigest(*bundle) {
		return types.NewError(types.ErrIndexCorruption, "bundle digest mismatch")
	}
	return nil
}

// WriteBundle 将证据包写为缩进 JSON,按需创建父目录。
func WriteBundle(bundle *Bundle, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("bundle dir not writable: %s", filepath.Dir(path))).WithCause(err)
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return types.NewError(types.ErrInternalError, "bundle not serializable").WithCause(err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("bundle not writable: %s", path)).WithCause(err)
	}
	return nil
}

// bundleDigest 计算去签名后的包摘要。
func bundleDigest(b Bundle) string {
	b.Signature = ""
	canonical, _ := json.Marshal(b)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func signBundle(bundle *Bundle, signingKey string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    bundle.RunID,
		"digest": bundleDigest(*bundle),
		"iat":    jwt.NewNumericDate(bundle.GeneratedAt),
	})
	return token.SignedString([]byte(signingKey))
}
