package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reelscout/backend/internal/config"
	"github.com/reelscout/backend/internal/models"
)

type uploaderStub struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (u *uploaderStub) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.inputs = append(u.inputs, input)
	u.bodies = append(u.bodies, data)
	return &manager.UploadOutput{}, nil
}

func TestArchiveUploadsJSON(t *testing.T) {
	up := &uploaderStub{}
	store := NewS3StorageWithUploader(up, config.ObjectStoreConfig{Bucket: "reels", Prefix: "/analyses/", PublicBaseURL: "https://cdn.example.com/"})
	store.Now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	result := models.AnalysisResult{Duration: 7, Audio: models.AudioSummary{Type: "music"}}
	location, err := store.Archive(context.Background(), "https://www.instagram.com/reel/abc/", result)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	key := ArchiveKey("analyses", "https://www.instagram.com/reel/abc/")
	if location != "https://cdn.example.com/"+key {
		t.Fatalf("unexpected location %s", location)
	}
	if len(up.inputs) != 1 || aws.ToString(up.inputs[0].Bucket) != "reels" || aws.ToString(up.inputs[0].Key) != key {
		t.Fatalf("unexpected upload input %+v", up.inputs)
	}
	if aws.ToString(up.inputs[0].ContentType) != "application/json" {
		t.Fatalf("expected json content type")
	}

	var doc archivedAnalysis
	if err := json.Unmarshal(up.bodies[0], &doc); err != nil {
		t.Fatalf("decode archived doc: %v", err)
	}
	if doc.SourceURL != "https://www.instagram.com/reel/abc/" || doc.Result.Duration != 7 {
		t.Fatalf("unexpected archived doc %+v", doc)
	}
}

func TestArchiveKeyIsStable(t *testing.T) {
	a := ArchiveKey("analyses", "https://x/1")
	b := ArchiveKey("analyses", " https://x/1 ")
	c := ArchiveKey("analyses", "https://x/2")
	if a != b {
		t.Fatalf("expected whitespace-insensitive keys: %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("expected different urls to map to different keys")
	}
	if !strings.HasPrefix(a, "analyses/") || !strings.HasSuffix(a, ".json") || len(a) != len("analyses/")+32+len(".json") {
		t.Fatalf("unexpected key shape %s", a)
	}
}

func TestSaveErrors(t *testing.T) {
	store := NewS3StorageWithUploader(&uploaderStub{err: errors.New("denied")}, config.ObjectStoreConfig{Bucket: "reels"})
	if _, err := store.Save(context.Background(), "/", strings.NewReader("x"), ""); err == nil {
		t.Fatal("expected empty key to fail")
	}
	if _, err := store.Save(context.Background(), "k", strings.NewReader("x"), ""); err == nil {
		t.Fatal("expected upload failure to surface")
	}
}
