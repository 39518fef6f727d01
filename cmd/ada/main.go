package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ada/internal/config"
	"ada/internal/notify"
	"ada/internal/runtime"
)

var (
	dataDir   string
	debugMode bool
)

var rootCmd = &cobra.Command{
	Use:   "ada",
	Short: "ada - asistente personal local-first",
	Long: `ada es una asistente conversacional que vive en tu máquina.

Las preguntas sencillas se resuelven sin red, las medianas con un modelo
local vía Ollama y solo lo que de verdad lo necesita sale al modelo remoto.
Lo que le cuentas se queda en una base SQLite en tu disco.

Sin argumentos arranca el chat interactivo.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

var factsCmd = &cobra.Command{
	Use:   "facts [dominio]",
	Short: "Lista los hechos guardados",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFacts(cmd, args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Muestra el estado del sistema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directorio de datos (por defecto ~/.ada)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "activa los logs de depuración")
	rootCmd.AddCommand(factsCmd, statusCmd)
}

func loadConfig() (*config.Config, error) {
	if dataDir != "" {
		os.Setenv("ADA_DATA_DIR", dataDir)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.DebugMode = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func runChat(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sink := notify.NewCLISink("ada")
	rt, err := runtime.Boot(cfg, sink)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	banner(rt)

	// Ctrl-C exits cleanly instead of leaving crons and workers hanging.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	prompt := color.New(color.FgGreen, color.Bold)
	for {
		prompt.Print("tú> ")
		select {
		case <-interrupts:
			fmt.Println()
			return nil
		case err := <-scanErr:
			fmt.Println()
			return err
		case line := <-lines:
			reply, done := rt.Brain.Handle(cmd.Context(), line)
			if reply != "" {
				sink.Reply(reply)
			}
			if done {
				return nil
			}
		}
	}
}

func banner(rt *runtime.Runtime) {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("ada — asistente local-first")
	notify.FaintStyle.Printf("dispositivo: %s · modelos locales: %v · escribe help para los comandos\n",
		rt.Profile.Tier, rt.Profile.RecommendedModels)
}

func runFacts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sink := notify.NewCLISink("ada")
	rt, err := runtime.Boot(cfg, sink)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	input := "facts"
	if len(args) == 1 {
		input += " " + args[0]
	}
	reply, _ := rt.Brain.Handle(cmd.Context(), input)
	fmt.Println(reply)
	return nil
}

func runStatus(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sink := notify.NewCLISink("ada")
	rt, err := runtime.Boot(cfg, sink)
	if err != nil {
		return err
	}
	defer rt.Shutdown()

	ctx := cmd.Context()
	fmt.Printf("dispositivo:    %s (%.1f GB RAM, %d núcleos, acelerador: %v)\n",
		rt.Profile.Tier, rt.Profile.RAMGB, rt.Profile.Cores, rt.Profile.Accelerator)

	if rt.Health.Probe(ctx) {
		installed := rt.Health.InstalledModels()
		fmt.Printf("ollama:         disponible (%d modelo(s) instalado(s))\n", len(installed))
		for _, m := range installed {
			fmt.Printf("  - %s\n", m.Name)
		}
	} else {
		fmt.Println("ollama:         no disponible")
	}

	if rt.Engine != nil {
		fmt.Printf("embeddings:     %s (listo: %v)\n", cfg.Embeddings.Model, rt.Engine.Ready())
	} else {
		fmt.Println("embeddings:     desactivados")
	}

	s := rt.Metrics.Snapshot()
	fmt.Printf("consultas:      %d (det %.0f%% / local %.0f%% / api %.0f%%)\n",
		s.Total, s.DeterministicPct, s.LocalPct, s.APIPct)
	fmt.Printf("ahorro est.:    $%.2f · tasa de fallback %.1f%%\n",
		s.EstimatedSavingsUSD, s.FallbackRate)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
