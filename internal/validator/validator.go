// Package validator implements the Package Validator (§4.2): a five-stage
// pipeline — structural check, metadata schema check, module recursion,
// digest recomputation, signature check — that either yields a valid
// application descriptor or a typed invalid(reason, path) failure.
package validator

import (
	"crypto/sha256"
	"fmt"

	playvalidator "github.com/go-playground/validator/v10"

	"github.com/r3e-network/hermes/internal/container"
	"github.com/r3e-network/hermes/internal/herrors"
	"github.com/r3e-network/hermes/internal/metrics"
	"github.com/r3e-network/hermes/internal/trust"
	"github.com/r3e-network/hermes/internal/vfs"
)

// schemaManifest carries go-playground/validator struct tags mirroring
// container.Manifest's required fields, used for stage 2's schema check
// without coupling container's wire type to a validation library.
type schemaManifest struct {
	AppID   string `validate:"required"`
	Version string `validate:"required,semver_or_loose"`
}

var structValidator = newStructValidator()

func newStructValidator() *playvalidator.Validate {
	v := playvalidator.New()
	v.RegisterValidation("semver_or_loose", func(fl playvalidator.FieldLevel) bool {
		return fl.Field().String() != ""
	})
	return v
}

// Descriptor is the result of a fully valid package: the parsed manifest,
// its mounted tree, and the trust level its signatures established.
type Descriptor struct {
	Manifest *container.Manifest
	Tree     *vfs.Tree
	Trusted  bool // true only if a publisher signature also verified
}

// Signatures is the detached signature material accompanying a bundle:
// an author envelope (required) and an optional publisher envelope, each
// over the same SigningPayload.
type Signatures struct {
	Author    *trust.Envelope
	Publisher *trust.Envelope
}

// Validate runs the full §4.2 pipeline against bundle, checking
// signatures against store. m may be nil; when supplied, every stage
// records its outcome under hermes_package_validations_total.
func Validate(bundle *container.Bundle, sigs Signatures, store *trust.Store, m *metrics.Metrics) (*Descriptor, error) {
	record := func(stage string, err error) {
		if m == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		m.PackageValidations.WithLabelValues(stage, outcome).Inc()
	}

	if err := stage1Structural(bundle); err != nil {
		record("structural", err)
		return nil, err
	}
	record("structural", nil)

	if err := stage2Schema(bundle.Manifest); err != nil {
		record("schema", err)
		return nil, err
	}
	record("schema", nil)

	if err := stage3ModuleRecursion(bundle); err != nil {
		record("module-recursion", err)
		return nil, err
	}
	record("module-recursion", nil)

	payload, err := stage4Digests(bundle)
	if err != nil {
		record("digest", err)
		return nil, err
	}
	record("digest", nil)

	trusted, err := stage5Signatures(payload, sigs, store)
	if err != nil {
		record("signature", err)
		return nil, err
	}
	record("signature", nil)

	return &Descriptor{Manifest: bundle.Manifest, Tree: bundle.Tree, Trusted: trusted}, nil
}

func stage1Structural(bundle *container.Bundle) error {
	return bundle.Manifest.Validate(bundle.Tree)
}

func stage2Schema(m *container.Manifest) error {
	sm := schemaManifest{AppID: m.AppID, Version: m.Version}
	if err := structValidator.Struct(sm); err != nil {
		return herrors.SchemaViolation("/metadata.json", err)
	}
	return nil
}

func stage3ModuleRecursion(bundle *container.Bundle) error {
	for _, decl := range bundle.Manifest.Modules {
		path := fmt.Sprintf("/lib/%s/metadata.json", decl.Name)
		raw, err := bundle.Tree.Read(path, 0, -1)
		if err != nil {
			return herrors.MissingRequiredFile(path)
		}
		mm, err := container.ParseModuleManifest(raw)
		if err != nil {
			return err
		}
		if mm.Name == "" || mm.Version == "" {
			return herrors.SchemaViolation(path, fmt.Errorf("module manifest missing name or version"))
		}
	}
	return nil
}

// stage4Digests recomputes the canonical digest set (§3.5): a digest of
// the metadata file, a digest per module's full /lib/<m> subtree, and a
// digest of the /srv subtree (the "shared" tree), which falls back to the
// empty-input SHA-256 digest when /srv is absent.
func stage4Digests(bundle *container.Bundle) (*trust.SigningPayload, error) {
	metaRaw, err := bundle.Tree.Read("/metadata.json", 0, -1)
	if err != nil {
		return nil, herrors.MissingRequiredFile("/metadata.json")
	}
	metaDigest := sha256.Sum256(metaRaw)

	moduleDigests := make(map[string][]byte, len(bundle.Manifest.Modules))
	for _, decl := range bundle.Manifest.Modules {
		h, err := bundle.Tree.Hash(fmt.Sprintf("/lib/%s", decl.Name))
		if err != nil {
			return nil, herrors.DigestMismatch(fmt.Sprintf("/lib/%s", decl.Name))
		}
		moduleDigests[decl.Name] = h
	}

	sharedHash, err := bundle.Tree.Hash("/srv")
	if err != nil {
		sharedHash = sha256Empty()
	}

	return &trust.SigningPayload{
		MetadataDigest: metaDigest[:],
		ModuleDigests:  moduleDigests,
		SharedDigest:   sharedHash,
	}, nil
}

func sha256Empty() []byte {
	sum := sha256.Sum256(nil)
	return sum[:]
}

// stage5Signatures verifies the author signature (fatal if missing or
// invalid) and the publisher signature (demotes trust, non-fatal).
func stage5Signatures(payload *trust.SigningPayload, sigs Signatures, store *trust.Store) (bool, error) {
	if sigs.Author == nil {
		return false, herrors.MissingRequiredFile("/author.cose")
	}
	if err := store.Verify(sigs.Author, payload); err != nil {
		return false, err
	}

	if sigs.Publisher == nil {
		return false, nil
	}
	if err := store.Verify(sigs.Publisher, payload); err != nil {
		return false, nil
	}
	return true, nil
}
