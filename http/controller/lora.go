package controller

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
	"github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

const (
	MinLoraFiles = 5
	MaxLoraFiles = 10

	DatasetPrefix = "datasets/"
)

var (
	styleNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	audioExtensions = map[string]bool{
		".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".opus": true,
	}

	errUnsafeArchive = errors.New("invalid archive: path traversal detected")
)

// TrainLora accepts a zip of 5 to 10 audio files, stores them as a dataset
// and submits a train_lora job referencing it.
func (ctrl *Controller) TrainLora(c *gin.Context) {
	ctx := c.Request.Context()

	styleName := strings.TrimSpace(c.PostForm("style_name"))
	if !styleNamePattern.MatchString(styleName) {
		utils.JSON400(c, "style_name must be 1-64 latin letters, digits, '_' or '-'")
		return
	}

	header, err := c.FormFile("audio_archive")
	if err != nil {
		utils.JSON400(c, "audio_archive file is required")
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".zip") {
		utils.JSON400(c, "Please upload a ZIP archive")
		return
	}
	if header.Size > ctrl.Config.EnvConfig.Blob.MaxUploadLen {
		utils.JSON413(c, "Archive exceeds the size limit")
		return
	}

	file, err := header.Open()
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[LoRA] Failed to open upload: %v", err)
		utils.JSON500(c, "Internal server error")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[LoRA] Failed to read upload: %v", err)
		utils.JSON500(c, "Internal server error")
		return
	}

	audio, err := audioMembers(data)
	if err != nil {
		utils.JSON400(c, err.Error())
		return
	}
	if len(audio) < MinLoraFiles {
		utils.JSON400(c, fmt.Sprintf("Need at least %d audio files for LoRA training, got %d", MinLoraFiles, len(audio)))
		return
	}
	if len(audio) > MaxLoraFiles {
		utils.JSON400(c, fmt.Sprintf("Maximum %d audio files for LoRA training, got %d", MaxLoraFiles, len(audio)))
		return
	}

	datasetKey := DatasetPrefix + styleName + "/" + uuid.NewString() + "/"
	keys := make([]string, 0, len(audio))
	for i, member := range audio {
		key := fmt.Sprintf("%s%02d_%s", datasetKey, i, path.Base(member.Name))
		if err := ctrl.storeMember(c, member, key); err != nil {
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[LoRA] Failed to store %s: %v", key, err)
			utils.JSON500(c, "Failed to store training data")
			return
		}
		keys = append(keys, key)
	}

	payload, err := json.Marshal(map[string]any{
		"style_name": styleName,
		"dataset":    datasetKey,
		"files":      keys,
	})
	if err != nil {
		utils.JSON500(c, "Internal server error")
		return
	}

	id, err := ctrl.Dispatcher.Submit(ctx, entity.JobKindTrainLora, payload)
	if err != nil {
		ctrl.respondError(c, "LoRA", err)
		return
	}

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[LoRA] Training job %s submitted for style %s with %d files", id, styleName, len(keys))
	utils.JSON200(c, dto.LoraTrainResponseDTO{
		TaskID:    id.String(),
		Status:    string(entity.JobStatusPending),
		StyleName: styleName,
		Files:     len(keys),
	})
}

func (ctrl *Controller) storeMember(c *gin.Context, member *zip.File, key string) error {
	rc, err := member.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = ctrl.Infra.Blob.Put(c.Request.Context(), key, rc, int64(member.UncompressedSize64), infra.ContentTypeFor(key))
	return err
}

// audioMembers rejects archives with entries escaping the extraction root
// and returns the audio entries sorted by name.
func audioMembers(data []byte) ([]*zip.File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.New("invalid ZIP archive")
	}

	var audio []*zip.File
	for _, f := range zr.File {
		if !safeMemberName(f.Name) {
			return nil, errUnsafeArchive
		}
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		if strings.HasPrefix(base, ".") || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if audioExtensions[strings.ToLower(path.Ext(base))] {
			audio = append(audio, f)
		}
	}
	sort.Slice(audio, func(i, j int) bool { return audio[i].Name < audio[j].Name })
	return audio, nil
}

func safeMemberName(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") || (len(name) > 1 && name[1] == ':') {
		return false
	}
	cleaned := path.Clean(name)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
