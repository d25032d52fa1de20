package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lgalvao/sgc-sub001/internal/app"
	"github.com/lgalvao/sgc-sub001/internal/config"
	"github.com/lgalvao/sgc-sub001/internal/db"
	"github.com/lgalvao/sgc-sub001/internal/domain"
	"github.com/lgalvao/sgc-sub001/internal/engine"
	"github.com/lgalvao/sgc-sub001/internal/lifecycle"
	"github.com/lgalvao/sgc-sub001/internal/metrics"
	"github.com/lgalvao/sgc-sub001/internal/repo"
)

const dateLayout = "2006-01-02"

var rootCmd = &cobra.Command{
	Use:   "sgc",
	Short: "Ciclo de vida dos subprocessos de mapeamento de competências",
	Long: `sgc conduz processos de mapeamento, revisão e diagnóstico de competências.
- Processo: campanha que cria um subprocesso por unidade participante ao ser iniciada.
- Subprocesso: percorre as situações do cadastro de atividades até a homologação do mapa.
- Mapa: atividades, conhecimentos e competências de uma unidade; pertence a um único subprocesso.
- Ator: --titulo, --perfil (ADMIN, GESTOR, CHEFE, SERVIDOR) e --unidade identificam quem executa o comando.
- Log: todo evento gravado pode ser consultado com 'sgc log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "erro:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("SGC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "diretório do workspace")
	flags.Bool("json", false, "saída em JSON")
	flags.String("titulo", "", "título de eleitor do ator")
	flags.String("perfil", "", "perfil ativo do ator")
	flags.Int64("unidade", 0, "unidade ativa do ator")
	for _, name := range []string{"workspace", "json", "titulo", "perfil", "unidade"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(unidadeCmd())
	rootCmd.AddCommand(processoCmd())
	rootCmd.AddCommand(subprocessoCmd())
	rootCmd.AddCommand(atividadeCmd())
	rootCmd.AddCommand(conhecimentoCmd())
	rootCmd.AddCommand(competenciaCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(metricsCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Cria sgc.yml e o banco do workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s já existe; use --force para sobrescrever", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				fmt.Printf("workspace pronto: %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "sobrescreve sgc.yml")
	return cmd
}

// --- unidade ---

func unidadeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "unidade", Short: "Unidades organizacionais"}
	cmd.AddCommand(unidadeAddCmd())
	cmd.AddCommand(unidadeListCmd())
	return cmd
}

func unidadeAddCmd() *cobra.Command {
	var (
		u        domain.Unit
		superior int64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Cadastra ou atualiza uma unidade",
		RunE: func(cmd *cobra.Command, args []string) error {
			if u.Codigo == 0 || u.Sigla == "" || u.Nome == "" {
				return fmt.Errorf("--codigo, --sigla e --nome são obrigatórios")
			}
			if cmd.Flags().Changed("superior") {
				u.SuperiorCodigo = &superior
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.Repo.UpsertUnit(ctx, u); err != nil {
					return err
				}
				saved, err := ws.Engine.Repo.GetUnit(ctx, u.Codigo)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().Int64Var(&u.Codigo, "codigo", 0, "código da unidade")
	cmd.Flags().StringVar(&u.Sigla, "sigla", "", "sigla")
	cmd.Flags().StringVar(&u.Nome, "nome", "", "nome")
	cmd.Flags().Int64Var(&superior, "superior", 0, "código da unidade superior")
	cmd.Flags().StringVar(&u.Titular, "titular", "", "nome do titular")
	return cmd
}

func unidadeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista unidades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				units, err := ws.Engine.Repo.ListUnits(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				tw := newTable(table.Row{"Código", "Sigla", "Nome", "Superior", "Titular"})
				for _, u := range units {
					tw.AppendRow(table.Row{u.Codigo, u.Sigla, u.Nome, optionalInt(u.SuperiorCodigo), u.Titular})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- processo ---

func processoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "processo", Short: "Processos"}
	cmd.AddCommand(processoCreateCmd())
	cmd.AddCommand(processoStartCmd())
	cmd.AddCommand(processoFinishCmd())
	cmd.AddCommand(processoShowCmd())
	cmd.AddCommand(processoListCmd())
	return cmd
}

func processoCreateCmd() *cobra.Command {
	var (
		descricao, tipo, limite string
		unidades                []int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Cria um processo na situação CRIADO",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataLimite, err := time.Parse(dateLayout, limite)
			if err != nil {
				return fmt.Errorf("--data-limite deve estar no formato AAAA-MM-DD: %w", err)
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				p, err := ws.Engine.CreateProcess(ctx, actor, engine.CreateProcessRequest{
					Descricao:  descricao,
					Tipo:       domain.ProcessType(strings.ToUpper(tipo)),
					DataLimite: dataLimite,
					Unidades:   unidades,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&descricao, "descricao", "", "descrição")
	cmd.Flags().StringVar(&tipo, "tipo", "MAPEAMENTO", "MAPEAMENTO, REVISAO ou DIAGNOSTICO")
	cmd.Flags().StringVar(&limite, "data-limite", "", "data limite (AAAA-MM-DD)")
	cmd.Flags().Int64SliceVar(&unidades, "unidades", nil, "códigos das unidades participantes")
	_ = cmd.MarkFlagRequired("descricao")
	_ = cmd.MarkFlagRequired("data-limite")
	_ = cmd.MarkFlagRequired("unidades")
	return cmd
}

func processoStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start CODIGO",
		Short: "Inicia o processo e cria os subprocessos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "processo")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				return ws.RetryOnConflict(ctx, func(ctx context.Context) error {
					_, subs, err := ws.Engine.StartProcess(ctx, actor, codigo)
					if err != nil {
						return err
					}
					return printSubprocesses(subs)
				})
			})
		},
	}
}

func processoFinishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finish CODIGO",
		Short: "Finaliza o processo quando todos os subprocessos terminaram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "processo")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				return ws.RetryOnConflict(ctx, func(ctx context.Context) error {
					p, err := ws.Engine.FinishProcess(ctx, actor, codigo)
					if err != nil {
						return err
					}
					return printJSONOrTable(p)
				})
			})
		},
	}
}

func processoShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show CODIGO",
		Short: "Mostra o processo e os subprocessos visíveis ao ator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "processo")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				p, err := ws.Engine.GetProcess(ctx, actor, codigo)
				if err != nil {
					return err
				}
				subs, err := ws.Engine.ListSubprocesses(ctx, actor, codigo)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(struct {
						Processo     domain.Process      `json:"processo"`
						Subprocessos []domain.Subprocess `json:"subprocessos"`
					}{p, subs})
				}
				fmt.Printf("%d  %s  [%s / %s]  limite %s\n", p.Codigo, p.Descricao, p.Tipo, p.Situacao, p.DataLimite.Format(dateLayout))
				return printSubprocesses(subs)
			})
		},
	}
}

func processoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista processos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				items, err := ws.Engine.ListProcesses(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Código", "Descrição", "Tipo", "Situação", "Limite", "Unidades"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Codigo, p.Descricao, p.Tipo, p.Situacao, p.DataLimite.Format(dateLayout), len(p.Unidades)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- subprocesso ---

func subprocessoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "subprocesso", Aliases: []string{"sp"}, Short: "Subprocessos"}
	cmd.AddCommand(subprocessoShowCmd())
	cmd.AddCommand(subprocessoFindCmd())
	cmd.AddCommand(subprocessoMapaCmd())
	cmd.AddCommand(subprocessoValidarCmd())
	cmd.AddCommand(subprocessoTransicaoCmd())
	cmd.AddCommand(subprocessoImportarCmd())
	cmd.AddCommand(subprocessoAjustesCmd())
	cmd.AddCommand(subprocessoAtualizarCmd())
	cmd.AddCommand(subprocessoExcluirCmd())
	return cmd
}

func subprocessoShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show CODIGO",
		Short: "Detalha um subprocesso e as ações disponíveis ao ator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "subprocesso")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				d, err := ws.Engine.GetDetails(ctx, actor, codigo)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func subprocessoFindCmd() *cobra.Command {
	var (
		processo int64
		sigla    string
	)
	cmd := &cobra.Command{
		Use:   "buscar",
		Short: "Encontra o subprocesso de uma unidade em um processo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				sp, err := ws.Engine.Repo.FindSubprocessByProcessAndUnitSigla(ctx, processo, sigla)
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("nenhum subprocesso da unidade %s no processo %d", strings.ToUpper(sigla), processo)
				}
				if err != nil {
					return err
				}
				d, err := ws.Engine.GetDetails(ctx, actor, sp.Codigo)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().Int64Var(&processo, "processo", 0, "código do processo")
	cmd.Flags().StringVar(&sigla, "sigla", "", "sigla da unidade")
	_ = cmd.MarkFlagRequired("processo")
	_ = cmd.MarkFlagRequired("sigla")
	return cmd
}

func subprocessoMapaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mapa CODIGO",
		Short: "Mostra atividades, conhecimentos e competências do mapa do subprocesso",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "subprocesso")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				d, err := ws.Engine.GetDetails(ctx, actor, codigo)
				if err != nil {
					return err
				}
				if d.Mapa == nil {
					return fmt.Errorf("subprocesso %d não possui mapa", codigo)
				}
				g, err := ws.Engine.Repo.LoadGraph(ctx, d.Mapa.Codigo)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g)
				}
				printGraph(g)
				return nil
			})
		},
	}
}

func subprocessoValidarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validar CODIGO",
		Short: "Valida o cadastro de atividades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "subprocesso")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				res, err := ws.Engine.ValidateCadastro(ctx, actor, codigo)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Valido {
					fmt.Println("cadastro válido")
					return nil
				}
				tw := newTable(table.Row{"Tipo", "Atividade", "Mensagem"})
				for _, e := range res.Erros {
					tw.AppendRow(table.Row{e.Tipo, optionalInt(e.AtividadeCodigo), e.Mensagem})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func subprocessoTransicaoCmd() *cobra.Command {
	var (
		versao     int64
		observacao string
	)
	cmd := &cobra.Command{
		Use:   "transicao CODIGO ACAO",
		Short: "Executa uma ação do ciclo de vida (ex.: DISPONIBILIZAR_CADASTRO)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "subprocesso")
			if err != nil {
				return err
			}
			opts := engine.TransitionOptions{Observacao: observacao}
			if cmd.Flags().Changed("versao") {
				opts.ExpectedVersion = &versao
			}
			action := lifecycle.Action(strings.ToUpper(args[1]))
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				run := func(ctx context.Context) error {
					dto, err := ws.Engine.Transition(ctx, actor, codigo, action, opts)
					if err != nil {
						return err
					}
					return printJSONOrTable(dto)
				}
				// A pinned version is never retried.
				if opts.ExpectedVersion != nil {
					return run(ctx)
				}
				return ws.RetryOnConflict(ctx, run)
			})
		},
	}
	cmd.Flags().Int64Var(&versao, "versao", 0, "versão esperada do subprocesso")
	cmd.Flags().StringVar(&observacao, "observacao", "", "observação gravada no mapa")
	return cmd
}

func subprocessoImportarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "importar DESTINO ORIGEM",
		Short: "Importa atividades e conhecimentos do mapa de outro subprocesso",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			destino, err := parseCode(args[0], "destino")
			if err != nil {
				return err
			}
			origem, err := parseCode(args[1], "origem")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				return ws.RetryOnConflict(ctx, func(ctx context.Context) error {
					res, err := ws.Engine.ImportActivities(ctx, actor, destino, origem)
					if err != nil {
						return err
					}
					return printJSONOrTable(res)
				})
			})
		},
	}
}

func subprocessoAjustesCmd() *cobra.Command {
	var arquivo string
	cmd := &cobra.Command{
		Use:   "ajustes CODIGO",
		Short: "Aplica um lote de ajustes do mapa descrito em YAML",
		Long: `O arquivo descreve renomeações e vínculos, aplicados juntos ou nenhum:
  versao: 4
  competencias:
    - codigo: 10
      descricao: Nova descrição
      atividades: [1, 2]
  atividades:
    - codigo: 1
      descricao: Atividade revisada`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "subprocesso")
			if err != nil {
				return err
			}
			data, err := os.ReadFile(arquivo)
			if err != nil {
				return err
			}
			var adj engine.MapAdjustments
			if err := yaml.Unmarshal(data, &adj); err != nil {
				return fmt.Errorf("ajustes %s: %w", arquivo, err)
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				dto, err := ws.Engine.SaveMapAdjustments(ctx, actor, codigo, adj)
				if err != nil {
					return err
				}
				return printJSONOrTable(dto)
			})
		},
	}
	cmd.Flags().StringVarP(&arquivo, "arquivo", "f", "", "arquivo YAML com os ajustes")
	_ = cmd.MarkFlagRequired("arquivo")
	return cmd
}

func subprocessoAtualizarCmd() *cobra.Command {
	var (
		limite       string
		mapa, versao int64
	)
	cmd := &cobra.Command{
		Use:   "atualizar CODIGO",
		Short: "Altera prazo da etapa 1 e mapa vinculado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "subprocesso")
			if err != nil {
				return err
			}
			var req engine.UpdateSubprocessRequest
			if limite != "" {
				t, err := time.Parse(dateLayout, limite)
				if err != nil {
					return fmt.Errorf("--data-limite deve estar no formato AAAA-MM-DD: %w", err)
				}
				req.DataLimiteEtapa1 = &t
			}
			if cmd.Flags().Changed("mapa") {
				req.MapaCodigo = &mapa
			}
			if cmd.Flags().Changed("versao") {
				req.ExpectedVersion = &versao
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				sp, err := ws.Engine.UpdateEntity(ctx, actor, codigo, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().StringVar(&limite, "data-limite", "", "novo prazo da etapa 1 (AAAA-MM-DD)")
	cmd.Flags().Int64Var(&mapa, "mapa", 0, "código do mapa a vincular")
	cmd.Flags().Int64Var(&versao, "versao", 0, "versão esperada do subprocesso")
	return cmd
}

func subprocessoExcluirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "excluir CODIGO",
		Short: "Exclui o subprocesso e o mapa que ele possui",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codigo, err := parseCode(args[0], "subprocesso")
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
				return ws.RetryOnConflict(ctx, func(ctx context.Context) error {
					if err := ws.Engine.Delete(ctx, actor, codigo); err != nil {
						return err
					}
					fmt.Printf("subprocesso %d excluído\n", codigo)
					return nil
				})
			})
		},
	}
}

// --- cadastro ---

func atividadeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "atividade", Short: "Atividades do cadastro"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add SUBPROCESSO DESCRICAO",
		Short: "Adiciona uma atividade",
		Args:  cobra.ExactArgs(2),
		RunE: codesCmd(1, func(ctx context.Context, ws *app.Workspace, actor domain.Actor, codes []int64, rest []string) error {
			id, err := ws.Engine.AddActivity(ctx, actor, codes[0], rest[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]int64{"atividade": id})
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename SUBPROCESSO ATIVIDADE DESCRICAO",
		Short: "Renomeia uma atividade",
		Args:  cobra.ExactArgs(3),
		RunE: codesCmd(2, func(ctx context.Context, ws *app.Workspace, actor domain.Actor, codes []int64, rest []string) error {
			return ws.Engine.RenameActivity(ctx, actor, codes[0], codes[1], rest[0])
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove SUBPROCESSO ATIVIDADE",
		Short: "Remove uma atividade e seus conhecimentos",
		Args:  cobra.ExactArgs(2),
		RunE: codesCmd(2, func(ctx context.Context, ws *app.Workspace, actor domain.Actor, codes []int64, _ []string) error {
			return ws.Engine.RemoveActivity(ctx, actor, codes[0], codes[1])
		}),
	})
	return cmd
}

func conhecimentoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "conhecimento", Short: "Conhecimentos das atividades"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add SUBPROCESSO ATIVIDADE DESCRICAO",
		Short: "Adiciona um conhecimento a uma atividade",
		Args:  cobra.ExactArgs(3),
		RunE: codesCmd(2, func(ctx context.Context, ws *app.Workspace, actor domain.Actor, codes []int64, rest []string) error {
			id, err := ws.Engine.AddKnowledge(ctx, actor, codes[0], codes[1], rest[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]int64{"conhecimento": id})
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove SUBPROCESSO ATIVIDADE CONHECIMENTO",
		Short: "Remove um conhecimento",
		Args:  cobra.ExactArgs(3),
		RunE: codesCmd(3, func(ctx context.Context, ws *app.Workspace, actor domain.Actor, codes []int64, _ []string) error {
			return ws.Engine.RemoveKnowledge(ctx, actor, codes[0], codes[1], codes[2])
		}),
	})
	return cmd
}

func competenciaCmd() *cobra.Command {
	var atividades []int64
	cmd := &cobra.Command{Use: "competencia", Short: "Competências do mapa"}
	add := &cobra.Command{
		Use:   "add SUBPROCESSO DESCRICAO",
		Short: "Cria uma competência vinculada a atividades",
		Args:  cobra.ExactArgs(2),
		RunE: codesCmd(1, func(ctx context.Context, ws *app.Workspace, actor domain.Actor, codes []int64, rest []string) error {
			id, err := ws.Engine.AddCompetency(ctx, actor, codes[0], rest[0], atividades)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]int64{"competencia": id})
		}),
	}
	add.Flags().Int64SliceVar(&atividades, "atividades", nil, "atividades vinculadas")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "remove SUBPROCESSO COMPETENCIA",
		Short: "Remove uma competência",
		Args:  cobra.ExactArgs(2),
		RunE: codesCmd(2, func(ctx context.Context, ws *app.Workspace, actor domain.Actor, codes []int64, _ []string) error {
			return ws.Engine.RemoveCompetency(ctx, actor, codes[0], codes[1])
		}),
	})
	return cmd
}

// codesCmd parses the first n arguments as codes and runs fn as the flag actor, retrying once on conflict.
func codesCmd(n int, fn func(context.Context, *app.Workspace, domain.Actor, []int64, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		codes := make([]int64, n)
		for i := 0; i < n; i++ {
			c, err := parseCode(args[i], "argumento "+strconv.Itoa(i+1))
			if err != nil {
				return err
			}
			codes[i] = c
		}
		return withActor(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor domain.Actor) error {
			return ws.RetryOnConflict(ctx, func(ctx context.Context) error {
				return fn(ctx, ws, actor, codes, args[n:])
			})
		})
	}
}

// --- log / metrics ---

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Eventos gravados",
		Long:  "Todo processo, transição e edição de mapa grava um evento na mesma transação da mudança.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Mostra os eventos mais recentes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				evts, err := ws.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable(table.Row{"ID", "Quando", "Tipo", "Entidade", "Ator", "Dados"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.Type, fmt.Sprintf("%s %d", e.EntityKind, e.EntityCodigo), e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "quantidade de eventos")
	cmd.Flags().Int64Var(&f.Processo, "processo", 0, "filtra por processo")
	cmd.Flags().StringVar(&f.Type, "type", "", "filtra por tipo de evento")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "filtra por tipo de entidade")
	cmd.Flags().Int64Var(&f.EntityCodigo, "entity-codigo", 0, "filtra por código da entidade")
	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Imprime as métricas no formato texto do Prometheus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.RefreshSituations(ctx); err != nil {
					return err
				}
				return metrics.WriteText(os.Stdout, ws.Registry)
			})
		},
	}
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withActor(ctx context.Context, fn func(context.Context, *app.Workspace, domain.Actor) error) error {
	actor, err := actorFromFlags()
	if err != nil {
		return err
	}
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws, actor)
	})
}

func actorFromFlags() (domain.Actor, error) {
	titulo := strings.TrimSpace(viper.GetString("titulo"))
	if titulo == "" {
		return domain.Actor{}, fmt.Errorf("--titulo (ou SGC_TITULO) é obrigatório")
	}
	perfil, ok := domain.ParseRole(viper.GetString("perfil"))
	if !ok {
		return domain.Actor{}, fmt.Errorf("--perfil deve ser ADMIN, GESTOR, CHEFE ou SERVIDOR")
	}
	unidade := viper.GetInt64("unidade")
	if unidade == 0 {
		return domain.Actor{}, fmt.Errorf("--unidade (ou SGC_UNIDADE) é obrigatório")
	}
	return domain.Actor{TituloEleitoral: titulo, Perfil: perfil, UnidadeCodigo: unidade}, nil
}

func parseCode(s, what string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: código inválido %q", what, s)
	}
	return v, nil
}

// exitCode maps the error taxonomy onto distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		return 3
	case errors.Is(err, domain.ErrNotFound):
		return 4
	case errors.Is(err, domain.ErrValidation):
		return 5
	case errors.Is(err, domain.ErrConcurrentModification):
		return 6
	}
	return 1
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printSubprocesses(subs []domain.Subprocess) error {
	if viper.GetBool("json") {
		return printJSON(subs)
	}
	tw := newTable(table.Row{"Código", "Unidade", "Situação", "Limite etapa 1", "Mapa", "Versão"})
	for _, sp := range subs {
		tw.AppendRow(table.Row{sp.Codigo, sp.UnidadeCodigo, sp.Situacao, sp.DataLimiteEtapa1.Format(dateLayout), optionalInt(sp.MapaCodigo), sp.Versao})
	}
	tw.Render()
	return nil
}

func printGraph(g domain.MapGraph) {
	tw := newTable(table.Row{"Atividade", "Descrição", "Conhecimentos"})
	for _, a := range g.Activities {
		names := make([]string, 0, len(a.Conhecimentos))
		for _, k := range a.Conhecimentos {
			names = append(names, fmt.Sprintf("%d %s", k.Codigo, k.Descricao))
		}
		tw.AppendRow(table.Row{a.Codigo, a.Descricao, strings.Join(names, "\n")})
	}
	tw.Render()
	ct := newTable(table.Row{"Competência", "Descrição", "Atividades"})
	for _, c := range g.Competencies {
		ct.AppendRow(table.Row{c.Codigo, c.Descricao, fmt.Sprint(c.Atividades)})
	}
	ct.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
