package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

type Config struct {
	Token      string
	Owner      string
	Repository string
	// BaseURL переопределяет адрес API, например для GitHub Enterprise
	BaseURL string
}

// GitHub ищет релизы и их артефакты в репозитории GitHub
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
}

func NewGitHub(cfg Config, httpClient *http.Client) (*GitHub, error) {
	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = base
	}
	return &GitHub{client: client, owner: cfg.Owner, repo: cfg.Repository}, nil
}

// Exists проверяет, что релиз с тегом опубликован
func (g *GitHub) Exists(ctx context.Context, tag string) (bool, error) {
	_, err := g.release(ctx, tag)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResolveDownloadURL возвращает ссылку на артефакт релиза. Артефакт выбирается
// по суффиксу платформы, иначе берется первый zip
func (g *GitHub) ResolveDownloadURL(ctx context.Context, tag, platformHint string) (string, error) {
	rel, err := g.release(ctx, tag)
	if err != nil {
		return "", err
	}

	asset := pickAsset(rel.Assets, platformHint)
	if asset == nil {
		return "", fmt.Errorf("release %s has no asset for %q: %w", tag, platformHint, domain.ErrNotFound)
	}

	rc, redirect, err := g.client.Repositories.DownloadReleaseAsset(ctx, g.owner, g.repo, asset.GetID(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to resolve asset %s of %s: %w", asset.GetName(), tag, err)
	}
	if rc != nil {
		rc.Close()
	}
	if redirect != "" {
		return redirect, nil
	}

	log.Debug().Str("component", "registry").Str("tag", tag).Msg("no redirect for release asset, using browser url")
	return asset.GetBrowserDownloadURL(), nil
}

func (g *GitHub) release(ctx context.Context, tag string) (*github.RepositoryRelease, error) {
	rel, resp, err := g.client.Repositories.GetReleaseByTag(ctx, g.owner, g.repo, tag)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("release %s: %w", tag, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release %s: %w", tag, err)
	}
	return rel, nil
}

func pickAsset(assets []*github.ReleaseAsset, platformHint string) *github.ReleaseAsset {
	if platformHint != "" {
		for _, a := range assets {
			if strings.HasSuffix(a.GetName(), platformHint) {
				return a
			}
		}
	}
	for _, a := range assets {
		if strings.Contains(a.GetName(), ".zip") {
			return a
		}
	}
	return nil
}
