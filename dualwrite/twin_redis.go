// Copyright 2026 the bagstream authors. All Rights Reserved.
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

package dualwrite

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisTwin materializes the graph-shaped twin: bag and event nodes as
// hashes, journey edges as a per-bag sorted set scored by occurrence time,
// and location/route membership sets for fan-out traversals ("all bags that
// passed through T2-sorter", "all bags on route LHR-JFK").
//
// All writes key on event or bag ids, so re-applying a fact after a retry or
// redelivery converges to the same graph.
type RedisTwin struct {
	client *redis.Client
}

func NewRedisTwin(client *redis.Client) *RedisTwin {
	return &RedisTwin{client: client}
}

func bagKey(entityID string) string      { return "twin:bag:" + entityID }
func eventKey(eventID string) string     { return "twin:event:" + eventID }
func journeyKey(entityID string) string  { return "twin:journey:" + entityID }
func locationKey(location string) string { return "twin:location:" + location + ":bags" }
func routeKey(routeID string) string     { return "twin:route:" + routeID + ":bags" }
func groupKey(groupID string) string     { return "twin:group:" + groupID }

func (t *RedisTwin) Apply(ctx context.Context, fact *Fact) error {
	event := &fact.Event

	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, bagKey(event.EntityID),
		"last_kind", string(event.Kind),
		"last_location", event.Location,
		"last_event_at", event.OccurredAt.UnixMilli(),
	)
	pipe.HSet(ctx, eventKey(event.ID),
		"bag_id", event.EntityID,
		"kind", string(event.Kind),
		"location", event.Location,
		"occurred_at", event.OccurredAt.UnixMilli(),
		"valid", strconv.FormatBool(fact.Result.Valid),
		"confidence", fact.Result.Confidence,
	)
	pipe.ZAdd(ctx, journeyKey(event.EntityID), redis.Z{
		Score:  float64(event.OccurredAt.UnixMilli()),
		Member: event.ID,
	})
	pipe.SAdd(ctx, locationKey(event.Location), event.EntityID)
	if event.RouteID != "" {
		pipe.SAdd(ctx, routeKey(event.RouteID), event.EntityID)
		pipe.HSet(ctx, bagKey(event.EntityID), "route_id", event.RouteID)
	}
	for _, group := range fact.Groups {
		pipe.HSet(ctx, groupKey(group.ID),
			"basis", string(group.Basis),
			"pattern", string(group.Pattern),
			"priority", string(group.Priority),
			"confidence", group.Confidence,
			"window_start", group.WindowStart.UnixMilli(),
			"window_end", group.WindowEnd.UnixMilli(),
		)
		for _, member := range group.Members {
			pipe.SAdd(ctx, groupKey(group.ID)+":bags", member)
			pipe.SAdd(ctx, bagKey(member)+":groups", group.ID)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("twin pipeline: %w", err)
	}

	// Derived, so outside the pipeline: the count reflects whatever the zset
	// holds after the edge write above.
	count, err := t.client.ZCard(ctx, journeyKey(event.EntityID)).Result()
	if err != nil {
		return fmt.Errorf("twin event count: %w", err)
	}
	return t.client.HSet(ctx, bagKey(event.EntityID), "event_count", count).Err()
}

// Journey returns the event ids on a bag's path, oldest first.
func (t *RedisTwin) Journey(ctx context.Context, entityID string) ([]string, error) {
	return t.client.ZRange(ctx, journeyKey(entityID), 0, -1).Result()
}

// BagsAtLocation returns every bag that has passed through the location.
func (t *RedisTwin) BagsAtLocation(ctx context.Context, location string) ([]string, error) {
	return t.client.SMembers(ctx, locationKey(location)).Result()
}

// BagsOnRoute returns every bag seen on the route.
func (t *RedisTwin) BagsOnRoute(ctx context.Context, routeID string) ([]string, error) {
	return t.client.SMembers(ctx, routeKey(routeID)).Result()
}

func (t *RedisTwin) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
