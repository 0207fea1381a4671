/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package capabilities

import (
	"context"
	"fmt"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/models"
	"github.com/carverauto/cmdagent/pkg/notify"
)

type notifications struct {
	store *notify.Store
}

func newNotifications(deps Deps) *notifications {
	return &notifications{store: deps.Notifications}
}

func (n *notifications) entries() []entry {
	return []entry{
		{
			capability: dispatch.Capability{
				Action: "get_notifications", Domain: dispatch.DomainNotifications,
				Description: "Return buffered notifications, most recent first",
				Help: dispatch.Help{
					Parameters: map[string]string{"limit": "integer (optional, default all)"},
					Requires:   "a notification spool directory",
					Example:    `{"action":"get_notifications"}`,
				},
			},
			run: n.list,
		},
		{
			capability: dispatch.Capability{
				Action: "clear_notifications", Domain: dispatch.DomainNotifications,
				Description: "Empty the notification buffer",
				Help:        dispatch.Help{Example: `{"action":"clear_notifications"}`},
			},
			run: n.clear,
		},
		{
			capability: dispatch.Capability{
				Action: "open_notification_settings", Domain: dispatch.DomainNotifications,
				Description: "Open the notification settings screen",
				Help: dispatch.Help{
					Requires: "an interactive settings UI",
					Example:  `{"action":"open_notification_settings"}`,
				},
			},
			run: func(context.Context, string, dispatch.Params) dispatch.Result {
				return unsupported("Opening notification settings", "an interactive settings UI")
			},
		},
	}
}

func (n *notifications) list(_ context.Context, _ string, p dispatch.Params) dispatch.Result {
	limit, err := p.Int("limit", 0)
	if err != nil {
		return dispatch.ParamError(err)
	}

	snap := n.store.Snapshot()
	if limit > 0 && len(snap) > limit {
		snap = snap[:limit]
	}

	out := make([]models.NotificationData, 0, len(snap))
	for i := range snap {
		out = append(out, snap[i].Wire())
	}

	return dispatch.OK("Notifications retrieved successfully", map[string]interface{}{
		"count":         len(out),
		"notifications": out,
	})
}

func (n *notifications) clear(context.Context, string, dispatch.Params) dispatch.Result {
	removed := n.store.Clear()

	return dispatch.OK(fmt.Sprintf("Cleared %d notifications", removed), map[string]int{"cleared": removed})
}
