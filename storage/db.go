package storage

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ferreirogomes/matricula/services"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// migrations/ guarda o esquema comum; migrations/<driver>/ o que depende do dialeto.
//
//go:embed migrations/*.sql migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

func init() {
	// O driver puro-Go registra-se como "sqlite", nome que o sqlx não conhece.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB representa a conexão com o banco relacional (PostgreSQL ou SQLite).
type DB struct {
	*sqlx.DB
	driver string
	log    *zap.Logger
}

// Open conecta ao banco sem aplicar migrações.
func Open(driver, dsn string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("driver de banco desconhecido %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao banco de dados: %w", err)
	}
	if driver == "sqlite" {
		// Um único escritor; as transações serializam no próprio pool.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("falha ao habilitar chaves estrangeiras: %w", err)
		}
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("falha ao configurar busy_timeout: %w", err)
		}
	}
	log.Info("conexão com o banco estabelecida", zap.String("driver", driver))
	return &DB{DB: db, driver: driver, log: log}, nil
}

// NewDB conecta ao banco e executa as migrações pendentes.
func NewDB(driver, dsn string, log *zap.Logger) (*DB, error) {
	db, err := Open(driver, dsn, log)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(migrate.Up); err != nil {
		db.Close()
		return nil, fmt.Errorf("falha ao executar migrações: %w", err)
	}
	return db, nil
}

// Migrate aplica (ou desfaz) as migrações embutidas e devolve quantas rodaram.
func (d *DB) Migrate(direction migrate.MigrationDirection) (int, error) {
	source, err := migrationSource(d.driver)
	if err != nil {
		return 0, err
	}
	dialect := "postgres"
	if d.driver == "sqlite" {
		dialect = "sqlite3"
	}
	n, err := migrate.Exec(d.DB.DB, dialect, source, direction)
	if err != nil {
		return 0, fmt.Errorf("erro ao aplicar migrações: %w", err)
	}
	if n > 0 {
		d.log.Info("migrações aplicadas", zap.Int("count", n))
	} else {
		d.log.Debug("nenhuma migração nova para aplicar")
	}
	return n, nil
}

// migrationSource junta as migrações comuns às do driver; o sql-migrate ordena pelo id.
func migrationSource(driver string) (*migrate.MemoryMigrationSource, error) {
	source := &migrate.MemoryMigrationSource{}
	for _, dir := range []string{"migrations", path.Join("migrations", driver)} {
		entries, err := migrationFiles.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("falha ao listar migrações em %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			raw, err := migrationFiles.ReadFile(path.Join(dir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("falha ao ler migração %s: %w", e.Name(), err)
			}
			m, err := migrate.ParseMigration(e.Name(), bytes.NewReader(raw))
			if err != nil {
				return nil, err
			}
			source.Migrations = append(source.Migrations, m)
		}
	}
	return source, nil
}

// Store devolve o repositório transacional sobre esta conexão.
func (d *DB) Store() *Store {
	return &Store{Repository: &Repository{db: d.DB}, db: d}
}

// Store implementa services.Store sobre o banco relacional.
type Store struct {
	*Repository
	db *DB
}

// WithinTx abre uma transação; no PostgreSQL as leituras de transferência travam a linha.
func (s *Store) WithinTx(ctx context.Context, fn func(repo services.Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("falha ao iniciar transação: %w", err)
	}
	repo := &Repository{db: tx, lockRows: s.db.driver == "postgres"}
	if err := fn(repo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.db.log.Error("falha ao desfazer transação", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("falha ao confirmar transação: %w", err)
	}
	return nil
}

// isUniqueViolation reconhece violações de unicidade nos dois drivers suportados.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ services.Store = (*Store)(nil)
