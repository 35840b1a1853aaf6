package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// cache lifetimes per resource; wars change fast, league data barely moves
const (
	playerTTL       = 5 * time.Minute
	clanTTL         = 10 * time.Minute
	currentWarTTL   = 2 * time.Minute
	warLogTTL       = 30 * time.Minute
	leagueGroupTTL  = time.Hour
	leagueWarTTL    = time.Hour
	capitalRaidsTTL = time.Hour

	DefaultListLimit = 10
)

// formatTag normalizes a player, clan or war tag and escapes it for use in a path. It returns
// "" for a blank tag.
func formatTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return url.PathEscape(tag)
}

// cached answers from the cache when it can and otherwise fetches endpoint once, no matter how
// many requests miss on the same key at the same time. A caller giving up does not cancel the
// fetch for the others.
func (g *Gateway) cached(ctx context.Context, key, endpoint string, ttl time.Duration) ([]byte, error) {
	data, ok, err := g.cache.Get(ctx, key)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		g.metrics.cacheLookups.WithLabelValues("error").Inc()
	case ok:
		g.metrics.cacheLookups.WithLabelValues("hit").Inc()
		return data, nil
	default:
		g.metrics.cacheLookups.WithLabelValues("miss").Inc()
	}

	// the shared fetch outlives any one caller; the upstream timeout still bounds it
	shared := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (interface{}, error) {
		data, err := g.upstream.fetch(shared, endpoint)
		if err != nil {
			return nil, err
		}
		if !json.Valid(data) {
			return nil, errors.Errorf("clash api answered %s with invalid json", endpoint)
		}
		if err := g.cache.Set(shared, key, data, ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache set failed")
		}
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) player(ctx context.Context, tag string) ([]byte, error) {
	t := formatTag(tag)
	if t == "" {
		return nil, errors.New("Invalid player tag")
	}
	return g.cached(ctx, "player:"+t, "/players/"+t, playerTTL)
}

func (g *Gateway) clan(ctx context.Context, tag string) ([]byte, error) {
	t := formatTag(tag)
	if t == "" {
		return nil, errors.New("Invalid clan tag")
	}
	return g.cached(ctx, "clan:"+t, "/clans/"+t, clanTTL)
}

func (g *Gateway) currentWar(ctx context.Context, tag string) ([]byte, error) {
	t := formatTag(tag)
	if t == "" {
		return nil, errors.New("Invalid clan tag")
	}
	return g.cached(ctx, "war:"+t, "/clans/"+t+"/currentwar", currentWarTTL)
}

func (g *Gateway) warLog(ctx context.Context, tag string, limit int) ([]byte, error) {
	t := formatTag(tag)
	if t == "" {
		return nil, errors.New("Invalid clan tag")
	}
	key := fmt.Sprintf("warlog:%s:%d", t, limit)
	return g.cached(ctx, key, fmt.Sprintf("/clans/%s/warlog?limit=%d", t, limit), warLogTTL)
}

func (g *Gateway) leagueGroup(ctx context.Context, tag string) ([]byte, error) {
	t := formatTag(tag)
	if t == "" {
		return nil, errors.New("Invalid clan tag")
	}
	return g.cached(ctx, "cwl:"+t, "/clans/"+t+"/currentwar/leaguegroup", leagueGroupTTL)
}

func (g *Gateway) leagueWar(ctx context.Context, warTag string) ([]byte, error) {
	t := formatTag(warTag)
	if t == "" {
		return nil, errors.New("Invalid war tag")
	}
	return g.cached(ctx, "cwlwar:"+t, "/clanwarleagues/wars/"+t, leagueWarTTL)
}

type leagueGroup struct {
	Rounds []struct {
		WarTags []string `json:"warTags"`
	} `json:"rounds"`
}

type leagueWarSides struct {
	Clan struct {
		Tag string `json:"tag"`
	} `json:"clan"`
	Opponent struct {
		Tag string `json:"tag"`
	} `json:"opponent"`
}

// leagueWarByRound finds the war clanTag fights in the given 1 based round of the current
// league. Wars that cannot be fetched are skipped.
func (g *Gateway) leagueWarByRound(ctx context.Context, clanTag string, round int) ([]byte, error) {
	raw, err := g.leagueGroup(ctx, clanTag)
	if err != nil {
		return nil, err
	}

	var group leagueGroup
	if err := json.Unmarshal(raw, &group); err != nil {
		return nil, errors.Wrap(err, "unable to decode the league group")
	}

	if round < 1 || round > len(group.Rounds) {
		return nil, errors.Errorf("Round %d not found", round)
	}
	warTags := group.Rounds[round-1].WarTags
	if len(warTags) == 0 {
		return nil, errors.Errorf("No wars found for round %d", round)
	}

	target := formatTag(clanTag)
	for _, tag := range warTags {
		if tag == "#0" {
			continue
		}
		war, err := g.leagueWar(ctx, tag)
		if err != nil {
			log.Debug().Err(err).Str("war_tag", tag).Msg("skipping league war")
			continue
		}
		var sides leagueWarSides
		if err := json.Unmarshal(war, &sides); err != nil {
			continue
		}
		if formatTag(sides.Clan.Tag) == target || formatTag(sides.Opponent.Tag) == target {
			return war, nil
		}
	}
	return nil, errors.New("Clan war not found in this round")
}

func (g *Gateway) capitalRaids(ctx context.Context, tag string, limit int, before, after string) ([]byte, error) {
	t := formatTag(tag)
	if t == "" {
		return nil, errors.New("Invalid clan tag")
	}

	query := "limit=" + strconv.Itoa(limit)
	if before != "" {
		query += "&before=" + url.QueryEscape(before)
	}
	if after != "" {
		query += "&after=" + url.QueryEscape(after)
	}
	key := fmt.Sprintf("raids:%s:%d:%s:%s", t, limit, before, after)
	return g.cached(ctx, key, "/clans/"+t+"/capitalraidseasons?"+query, capitalRaidsTTL)
}
