package main

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish events for workers to react to",
}

var eventPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Append an event to the workspace's store",
	Long: `Append an event for every subscribed worker to evaluate on its next
dispatch pass. --payload takes a JSON object literal; omit it for an
empty payload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, _ := cmd.Flags().GetString("type")
		entityType, _ := cmd.Flags().GetString("entity-type")
		entityID, _ := cmd.Flags().GetString("entity-id")
		actor, _ := cmd.Flags().GetString("actor")
		sessionID, _ := cmd.Flags().GetString("session-id")
		payloadJSON, _ := cmd.Flags().GetString("payload")

		if eventType == "" {
			return granaryerr.New(granaryerr.UserInput, "--type is required")
		}

		payload := map[string]any{}
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return granaryerr.Wrap(granaryerr.UserInput, "--payload is not a valid JSON object", err)
			}
		}

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := c.PublishEvent(ipc.PublishEventRequest{
			EventType:  eventType,
			EntityType: entityType,
			EntityID:   entityID,
			Actor:      actor,
			SessionID:  sessionID,
			Payload:    payload,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Event published: id=%d\n", id)
		return nil
	},
}

func init() {
	eventCmd.AddCommand(eventPublishCmd)

	eventPublishCmd.Flags().String("type", "", "event type (required)")
	eventPublishCmd.Flags().String("entity-type", "", "entity type the event concerns")
	eventPublishCmd.Flags().String("entity-id", "", "entity id the event concerns")
	eventPublishCmd.Flags().String("actor", "", "actor that produced the event")
	eventPublishCmd.Flags().String("session-id", "", "session id grouping related events")
	eventPublishCmd.Flags().String("payload", "", "JSON object literal carried as the event payload")
}
