package models

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"ScriptToShots-server/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}

	log.Println("数据库连接成功 (Native SQL + GORM)")

	// 自动建表（读取 doc/sql/ScriptToShots.sql）
	b, err := os.ReadFile("doc/sql/ScriptToShots.sql")
	if err != nil {
		log.Printf("读取 SQL 文件失败（跳过建表）: %v", err)
		return
	}
	sqls := strings.Split(string(b), ";")
	for _, s := range sqls {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := DB.Exec(s); err != nil {
			log.Printf("执行建表语句失败: %v ; sql: %s", err, s)
		}
	}
}

// Project CRUD
func CreateProject(p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cls, err := p.Classification.Value()
	if err != nil {
		return err
	}
	_, err = DB.Exec(
		`INSERT INTO project (id, title, user_prompt, status, classification, script, storyboard, shot_list, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`,
		p.ID, p.Title, p.UserPrompt, p.Status, cls, p.Script, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func GetProjectByID(id string) (Project, error) {
	var p Project
	row := DB.QueryRow(`SELECT id, title, user_prompt, status, classification, script, storyboard, shot_list, created_at, updated_at FROM project WHERE id = ?`, id)
	var script sql.NullString
	var createdAt, updatedAt time.Time
	var clsBytes, sbBytes, slBytes []byte
	if err := row.Scan(&p.ID, &p.Title, &p.UserPrompt, &p.Status, &clsBytes, &script, &sbBytes, &slBytes, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	if script.Valid {
		p.Script = script.String
	}
	if len(clsBytes) > 0 {
		_ = p.Classification.Scan(clsBytes)
	}
	if len(sbBytes) > 0 {
		_ = p.Storyboard.Scan(sbBytes)
	}
	if len(slBytes) > 0 {
		_ = p.ShotList.Scan(slBytes)
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return p, nil
}

func UpdateProjectStatus(id string, status string) error {
	_, err := DB.Exec(`UPDATE project SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	return err
}

func DeleteProjectByID(id string) error {
	_, err := DB.Exec(`DELETE FROM project WHERE id = ?`, id)
	return err
}

// SaveProjectScript 剧本全文覆盖写入（编辑入口不接受增量 diff）
func SaveProjectScript(id string, script *string) error {
	var v interface{}
	if script != nil {
		v = *script
	}
	_, err := DB.Exec(`UPDATE project SET script = ?, updated_at = ? WHERE id = ?`, v, time.Now(), id)
	return err
}

// SaveProjectStoryboard frames 传 nil 表示清空（失效后待重新生成）
func SaveProjectStoryboard(id string, frames FrameList) error {
	v, err := frames.Value()
	if err != nil {
		return err
	}
	_, err = DB.Exec(`UPDATE project SET storyboard = ?, updated_at = ? WHERE id = ?`, v, time.Now(), id)
	return err
}

// SaveProjectShotList shots 传 nil 表示清空
func SaveProjectShotList(id string, shots ShotList) error {
	v, err := shots.Value()
	if err != nil {
		return err
	}
	_, err = DB.Exec(`UPDATE project SET shot_list = ?, updated_at = ? WHERE id = ?`, v, time.Now(), id)
	return err
}
