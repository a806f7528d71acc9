package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/artemshal/DungeonCompanion/internal/character"
	"github.com/artemshal/DungeonCompanion/internal/config"
)

var characterCmd = &cobra.Command{
	Use:   "character",
	Short: "Load and inspect the overlay character",
}

var characterShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved character",
	Example: `  dungeoncompanion character show
  dungeoncompanion character show --format json`,
	RunE: runCharacterShow,
}

var characterFetchCmd = &cobra.Command{
	Use:   "fetch [ID]",
	Short: "Download a character and make it the overlay character",
	Long: `Download a character from D&D Beyond, save it to the data file and
remember its id. Without an ID the configured character is refreshed.`,
	Example: `  dungeoncompanion character fetch 12345678`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runCharacterFetch,
}

var characterFormat string

func init() {
	rootCmd.AddCommand(characterCmd)
	characterCmd.AddCommand(characterShowCmd)
	characterCmd.AddCommand(characterFetchCmd)

	characterShowCmd.Flags().StringVarP(&characterFormat, "format", "f", "yaml", "output format (yaml or json)")
}

func characterService(configMgr *config.Manager) *character.Service {
	cfg := configMgr.Get()
	return character.NewService(
		character.NewClient(nil, ""),
		configMgr.ResolvePath(cfg.Character.DataFile),
	)
}

func runCharacterShow(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	svc := characterService(configMgr)
	if err := svc.Load(cmd.Context()); err != nil {
		return err
	}
	return printValue(cmd, characterFormat, svc.Snapshot().Character.Summary())
}

func runCharacterFetch(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	raw := configMgr.Get().Character.ID
	if len(args) > 0 {
		raw = args[0]
	}
	id, err := character.ParseID(raw)
	if err != nil {
		return err
	}

	svc := characterService(configMgr)
	if err := svc.Reload(cmd.Context(), id); err != nil {
		return err
	}
	if err := configMgr.SetValue("character.id", strconv.Itoa(id)); err != nil {
		return err
	}

	s := svc.Snapshot().Character.Summary()
	fmt.Fprintf(cmd.OutOrStdout(), "%s, level %d %s %s (AC %d, HP %d/%d)\n",
		s.Name, s.Level, s.Race, s.Class, s.ArmorClass, s.HitPoints, s.MaxHitPoints)
	return nil
}
